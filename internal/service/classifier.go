// Package service implements the diagnostic result aggregation engine: the
// classifier that derives headline indicators from raw prediction sets and
// the resolver that applies view selection state to a case record.
package service

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inspectra-cxr-server/internal/domain"
)

// ClassificationResult is the classifier output for one prediction set: the
// three headline indicators plus the per-condition table rows shown beneath
// them in interactive views.
type ClassificationResult struct {
	Headline  []domain.HeadlineIndicator `json:"headline"`
	TableRows []domain.ConditionScore    `json:"table_rows"`
}

// ClassifierService aggregates per-condition prediction scores into headline
// clinical indicators. It is pure and synchronous: it holds no mutable state,
// never fails, and degrades malformed input by zero-fallback.
type ClassifierService struct {
	logger *logrus.Logger
}

// NewClassifierService creates a new classifier service
func NewClassifierService(logger *logrus.Logger) *ClassifierService {
	return &ClassifierService{logger: logger}
}

// Classify derives the headline indicators and table rows for a single
// prediction set. Every row reflects exactly the supplied set; conditions
// absent from it are omitted, never defaulted.
func (c *ClassifierService) Classify(predictions []domain.ConditionScore) ClassificationResult {
	result := ClassificationResult{
		Headline: []domain.HeadlineIndicator{
			c.groupIndicator(domain.INDICATOR_ABNORMALITY, domain.AbnormalityGroup, predictions),
			c.groupIndicator(domain.INDICATOR_TUBERCULOSIS, domain.TuberculosisGroup, predictions),
			c.groupIndicator(domain.INDICATOR_PNEUMOTHORAX, domain.PneumothoraxGroup, predictions),
		},
		TableRows: tableRows(predictions),
	}

	c.logger.WithFields(logrus.Fields{
		"predictions": len(predictions),
		"table_rows":  len(result.TableRows),
		"abnormality": result.Headline[0].Positive,
	}).Debug("Classified prediction set")

	return result
}

// groupIndicator synthesizes one headline indicator from the group's positive
// members. The displayed score is the thresholded label of the member with
// the highest extracted numeric value; unparseable labels compete with value
// 0 but remain eligible and are displayed verbatim if they win.
func (c *ClassifierService) groupIndicator(label domain.IndicatorLabel, group []domain.Condition, predictions []domain.ConditionScore) domain.HeadlineIndicator {
	indicator := domain.HeadlineIndicator{
		Label:          label,
		Positive:       false,
		DisplayedScore: domain.ThresholdedLow,
	}

	var best *domain.ConditionScore
	for i := range predictions {
		s := predictions[i]
		if !domain.InGroup(group, s.ConditionName) || !s.Positive() {
			continue
		}
		if best == nil || s.NumericScore() > best.NumericScore() {
			best = &predictions[i]
		}
	}

	if best != nil {
		indicator.Positive = true
		indicator.DisplayedScore = best.Thresholded
	}
	return indicator
}

// tableRows filters the prediction set down to the taxonomy conditions that
// were not promoted to their own headline indicator. Abnormality is synthetic
// with no matching condition name, so abnormality-group members stay visible;
// the tuberculosis- and pneumothorax-equivalent conditions are excluded once
// promoted. Rows are sorted alphabetically for interactive display, which is
// deliberately distinct from the taxonomy order used in exported reports.
func tableRows(predictions []domain.ConditionScore) []domain.ConditionScore {
	rows := make([]domain.ConditionScore, 0, len(predictions))
	for _, s := range predictions {
		if !s.ConditionName.IsValid() {
			continue
		}
		if domain.InGroup(domain.TuberculosisGroup, s.ConditionName) ||
			domain.InGroup(domain.PneumothoraxGroup, s.ConditionName) {
			continue
		}
		rows = append(rows, s)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ConditionName < rows[j].ConditionName
	})
	return rows
}
