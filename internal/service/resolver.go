package service

import (
	"github.com/sirupsen/logrus"

	"github.com/inspectra-cxr-server/internal/domain"
)

// ResolverService applies a ViewSelection to a CaseRecord, deciding which
// image to surface and which single-version prediction set backs it. Pure and
// synchronous; invalid selections degrade silently, never error.
type ResolverService struct {
	logger *logrus.Logger
}

// NewResolverService creates a new view resolver service
func NewResolverService(logger *logrus.Logger) *ResolverService {
	return &ResolverService{logger: logger}
}

// Resolve picks the display image URL and the active prediction set.
//
// The raw pseudo-version overrides the image only: predictions still come
// from the latest stable version, so headline indicators are always computed
// against a real model release. A drill-down selection resolves to the
// condition's individual heatmap only when the condition is positive in the
// active set and a heatmap exists for the active version; anything else is a
// silent no-op. A version without an overlay falls back to the raw image.
func (r *ResolverService) Resolve(rec *domain.CaseRecord, sel domain.ViewSelection) domain.ResolvedView {
	dataVersion := sel.Version
	if dataVersion == domain.VERSION_RAW || !dataVersion.IsValid() {
		dataVersion = rec.LatestStableVersion()
	}
	predictions := rec.PredictionsByVersion[dataVersion]

	view := domain.ResolvedView{
		ImageURL:    rec.RawImage.URL,
		DataVersion: dataVersion,
		Predictions: predictions,
	}

	if sel.Version == domain.VERSION_RAW {
		return view
	}

	if url, ok := r.heatmapURL(rec, dataVersion, sel.SelectedCondition, predictions); ok {
		view.ImageURL = url
		return view
	}

	if overlay, ok := rec.OverlayByVersion[dataVersion]; ok && overlay.URL != "" {
		view.ImageURL = overlay.URL
	}
	return view
}

// heatmapURL reports whether the drill-down selection qualifies: the condition
// must be positive in the active prediction set and have an individual heatmap
// under the active version.
func (r *ResolverService) heatmapURL(rec *domain.CaseRecord, version domain.ModelVersion, cond domain.Condition, predictions []domain.ConditionScore) (string, bool) {
	if cond == "" {
		return "", false
	}

	positive := false
	for _, s := range predictions {
		if s.ConditionName == cond && s.Positive() {
			positive = true
			break
		}
	}
	if !positive {
		r.logger.WithFields(logrus.Fields{
			"condition": cond,
			"version":   version,
		}).Debug("Ignoring drill-down selection for non-positive condition")
		return "", false
	}

	heatmap, ok := rec.HeatmapsByVersion[version][cond]
	if !ok || heatmap.URL == "" {
		r.logger.WithFields(logrus.Fields{
			"condition": cond,
			"version":   version,
		}).Debug("Ignoring drill-down selection without heatmap")
		return "", false
	}
	return heatmap.URL, true
}
