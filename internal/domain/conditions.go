// Package domain contains the core entities for chest X-ray (CXR) diagnostic
// result aggregation: the condition taxonomy, per-condition prediction scores,
// case records and the derived headline indicators surfaced to reviewers.
package domain

// Condition is a single named diagnostic finding with its own probability score.
type Condition string

const (
	ATELECTASIS      Condition = "Atelectasis"
	CARDIOMEGALY     Condition = "Cardiomegaly"
	EDEMA            Condition = "Edema"
	LUNG_OPACITY     Condition = "Lung Opacity"
	MASS             Condition = "Mass"
	NODULE           Condition = "Nodule"
	PLEURAL_EFFUSION Condition = "Pleural Effusion"
	PNEUMOTHORAX     Condition = "Pneumothorax"
	TUBERCULOSIS     Condition = "Tuberculosis"
)

// Taxonomy is the canonical ordered set of conditions. The order is
// significant: the exported report renders its score table in exactly this
// order, independent of the alphabetical ordering used in interactive views.
var Taxonomy = []Condition{
	ATELECTASIS,
	CARDIOMEGALY,
	EDEMA,
	LUNG_OPACITY,
	MASS,
	NODULE,
	PLEURAL_EFFUSION,
	PNEUMOTHORAX,
	TUBERCULOSIS,
}

// AbnormalityGroup lists the conditions that feed the synthetic Abnormality
// headline indicator. Membership is authoritative; it is never inferred from
// anything beyond name equality.
var AbnormalityGroup = []Condition{
	PLEURAL_EFFUSION,
	CARDIOMEGALY,
	ATELECTASIS,
	EDEMA,
	NODULE,
	MASS,
	LUNG_OPACITY,
}

// TuberculosisGroup holds the tuberculosis-equivalent conditions. Singleton
// today, but classification must tolerate future multi-member groups.
var TuberculosisGroup = []Condition{TUBERCULOSIS}

// PneumothoraxGroup holds the pneumothorax-equivalent conditions.
var PneumothoraxGroup = []Condition{PNEUMOTHORAX}

// IndicatorLabel identifies one of the three synthesized headline indicators.
type IndicatorLabel string

const (
	INDICATOR_ABNORMALITY  IndicatorLabel = "Abnormality"
	INDICATOR_TUBERCULOSIS IndicatorLabel = "Tuberculosis"
	INDICATOR_PNEUMOTHORAX IndicatorLabel = "Pneumothorax"
)

// IsValid reports whether the condition is part of the canonical taxonomy.
func (c Condition) IsValid() bool {
	return TaxonomyIndex(c) >= 0
}

// TaxonomyIndex returns the position of the condition in the canonical
// taxonomy, or -1 when the condition is not part of it.
func TaxonomyIndex(c Condition) int {
	for i, t := range Taxonomy {
		if t == c {
			return i
		}
	}
	return -1
}

// InGroup reports group membership by name equality.
func InGroup(group []Condition, c Condition) bool {
	for _, m := range group {
		if m == c {
			return true
		}
	}
	return false
}

// ModelVersion identifies a CXR model release. VERSION_RAW is a display-only
// pseudo-version: it overrides which image is shown, never which prediction
// set is used.
type ModelVersion string

const (
	VERSION_V3  ModelVersion = "v3"
	VERSION_V4  ModelVersion = "v4"
	VERSION_V5  ModelVersion = "v5"
	VERSION_RAW ModelVersion = "raw"
)

// ModelVersions lists the supported model releases, oldest first.
var ModelVersions = []ModelVersion{VERSION_V3, VERSION_V4, VERSION_V5}

// IsValid reports whether the version is a supported release or the raw
// pseudo-version.
func (v ModelVersion) IsValid() bool {
	if v == VERSION_RAW {
		return true
	}
	for _, m := range ModelVersions {
		if m == v {
			return true
		}
	}
	return false
}
