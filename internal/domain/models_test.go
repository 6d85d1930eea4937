package domain

import (
	"errors"
	"testing"
)

func TestConditionScorePositive(t *testing.T) {
	tests := []struct {
		name     string
		label    string
		expected bool
	}{
		{"Low sentinel is negative", "Low", false},
		{"Percentage is positive", "62%", true},
		{"High label is positive", "High", true},
		{"Empty label is positive", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ConditionScore{ConditionName: EDEMA, Thresholded: tt.label}
			if s.Positive() != tt.expected {
				t.Errorf("Positive(%q) = %v, expected %v", tt.label, !tt.expected, tt.expected)
			}
		})
	}
}

func TestConditionScoreNumericScore(t *testing.T) {
	tests := []struct {
		name     string
		label    string
		expected float64
	}{
		{"plain percentage", "62%", 62},
		{"fractional percentage", "45.5%", 45.5},
		{"no percent sign", "80", 80},
		{"whitespace tolerated", " 33% ", 33},
		{"Low degrades to zero", "Low", 0},
		{"High degrades to zero", "High", 0},
		{"garbage degrades to zero", "n/a", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ConditionScore{Thresholded: tt.label}
			if got := s.NumericScore(); got != tt.expected {
				t.Errorf("NumericScore(%q) = %v, expected %v", tt.label, got, tt.expected)
			}
		})
	}
}

func TestLatestStableVersion(t *testing.T) {
	score := []ConditionScore{{ConditionName: EDEMA, RawProbability: 0.5, Thresholded: "50%"}}

	tests := []struct {
		name     string
		rec      CaseRecord
		expected ModelVersion
	}{
		{
			"newest populated version wins",
			CaseRecord{PredictionsByVersion: map[ModelVersion][]ConditionScore{VERSION_V3: score, VERSION_V4: score}},
			VERSION_V4,
		},
		{
			"empty sets are skipped",
			CaseRecord{PredictionsByVersion: map[ModelVersion][]ConditionScore{VERSION_V3: score, VERSION_V5: {}}},
			VERSION_V3,
		},
		{
			"no predictions at all",
			CaseRecord{},
			ModelVersion(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.LatestStableVersion(); got != tt.expected {
				t.Errorf("LatestStableVersion() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestSelectVersionClearsDrillDown(t *testing.T) {
	sel := ViewSelection{Version: VERSION_V4, SelectedCondition: EDEMA}

	sel.SelectVersion(VERSION_V5)
	if sel.SelectedCondition != "" {
		t.Errorf("Expected drill-down cleared after version switch, got %q", sel.SelectedCondition)
	}

	sel.SelectedCondition = NODULE
	sel.SelectVersion(VERSION_V5)
	if sel.SelectedCondition != NODULE {
		t.Errorf("Expected drill-down kept when version unchanged, got %q", sel.SelectedCondition)
	}
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("connection refused")

	rle := NewResourceLoadError("http://example.com/a.png", "fetch failed", cause)
	if rle.Error() != "RESOURCE_LOAD_ERROR: fetch failed (url: http://example.com/a.png)" {
		t.Errorf("Unexpected ResourceLoadError message: %s", rle.Error())
	}
	if !errors.Is(rle, cause) {
		t.Error("Expected ResourceLoadError to unwrap to its cause")
	}

	ce := NewCompositionError("acquiring_images", "no image could be acquired", rle)
	if ce.Error() != "COMPOSITION_ERROR: no image could be acquired (stage: acquiring_images)" {
		t.Errorf("Unexpected CompositionError message: %s", ce.Error())
	}
	var target *ResourceLoadError
	if !errors.As(ce, &target) {
		t.Error("Expected CompositionError to unwrap to the ResourceLoadError")
	}
}
