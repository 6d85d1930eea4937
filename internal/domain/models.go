package domain

import (
	"strconv"
	"strings"
	"time"
)

// ThresholdedLow is the sole negative signal in the thresholded label scheme.
// The prediction source pre-thresholds raw probabilities into either this
// sentinel or a percentage-style string; nothing downstream re-derives it.
const ThresholdedLow = "Low"

// ConditionScore is a single per-condition prediction record as delivered by
// the model service. Immutable once received.
type ConditionScore struct {
	ConditionName  Condition `json:"condition_name"`
	RawProbability float64   `json:"raw_probability"`
	BalancedScore  float64   `json:"balanced_score,omitempty"`
	Thresholded    string    `json:"thresholded"`
}

// Positive reports whether the condition is considered present. The "Low"
// sentinel is the only negative signal; every other label counts as positive.
func (s ConditionScore) Positive() bool {
	return s.Thresholded != ThresholdedLow
}

// NumericScore extracts the numeric value from the thresholded percentage
// string. Unparseable labels (including "Low" and "High") degrade to 0 for
// comparison purposes; the label itself is still displayed verbatim.
func (s ConditionScore) NumericScore() float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s.Thresholded), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}

// ImageRef points at an image resource owned by the surrounding application.
type ImageRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// CaseRecord is a complete uploaded case with its per-version prediction sets
// and derived images. Supplied by the caller and treated as read-only input
// per invocation.
type CaseRecord struct {
	ID                   string                                  `json:"id"`
	CreatedAt            time.Time                               `json:"created_at"`
	RawImage             ImageRef                                `json:"raw_image"`
	OverlayByVersion     map[ModelVersion]ImageRef               `json:"overlay_by_version,omitempty"`
	PredictionsByVersion map[ModelVersion][]ConditionScore       `json:"predictions_by_version,omitempty"`
	HeatmapsByVersion    map[ModelVersion]map[Condition]ImageRef `json:"heatmaps_by_version,omitempty"`
}

// LatestStableVersion returns the newest supported model version that carries
// a non-empty prediction set, or the empty version when the case has none.
func (c *CaseRecord) LatestStableVersion() ModelVersion {
	for i := len(ModelVersions) - 1; i >= 0; i-- {
		if len(c.PredictionsByVersion[ModelVersions[i]]) > 0 {
			return ModelVersions[i]
		}
	}
	return ""
}

// ViewSelection is the transient per-case selection state: which model
// version is active and, optionally, which condition's individual heatmap is
// drilled into. Selection state is scoped per version, not global.
type ViewSelection struct {
	Version           ModelVersion `json:"version"`
	SelectedCondition Condition    `json:"selected_condition,omitempty"`
}

// SelectVersion activates a version and clears any condition drill-down,
// since drill-down selections do not carry across versions.
func (s *ViewSelection) SelectVersion(v ModelVersion) {
	if s.Version != v {
		s.SelectedCondition = ""
	}
	s.Version = v
}

// HeadlineIndicator is one of the three synthesized top-level diagnostic
// flags derived from the active prediction set. Recomputed on every
// classification call, never cached across input sets.
type HeadlineIndicator struct {
	Label          IndicatorLabel `json:"label"`
	Positive       bool           `json:"is_positive"`
	DisplayedScore string         `json:"displayed_score"`
}

// ResolvedView is the outcome of applying a ViewSelection to a CaseRecord:
// the image to display and the single-version prediction set backing it.
type ResolvedView struct {
	ImageURL    string           `json:"image_url"`
	DataVersion ModelVersion     `json:"data_version"`
	Predictions []ConditionScore `json:"predictions"`
}

// AcquiredImage is a fetched and re-encoded image ready for report layout.
// Data holds size-bounded JPEG bytes; Width/Height are the native dimensions
// of the source and AspectRatio their quotient, retained for layout math.
type AcquiredImage struct {
	Data        []byte
	Width       int
	Height      int
	AspectRatio float64
}

// ReportArtifact is the finished export. Ownership transfers to the caller.
type ReportArtifact struct {
	Document []byte `json:"-"`
	Filename string `json:"filename"`
}
