package features

import (
	"strings"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

type LabDeriver struct {
	filter   string
	testName string
}

func NewLabDeriver(rules Rules) *LabDeriver {
	return &LabDeriver{filter: rules.HDL.TestFilter, testName: rules.HDL.TestName}
}

// Keep reports whether a lab row survives the test-name filter.
func (d *LabDeriver) Keep(rec models.LabRecord) bool {
	return strings.Contains(rec.TestName, d.filter)
}

// Derive categorises a kept row. Rows for other HDL tests, and HDL-C rows whose result
// is not numeric, get an empty category; the latter also set invalid to true.
func (d *LabDeriver) Derive(rec models.LabRecord) (feature models.LabFeature, invalid bool) {
	feature.EncounterID = rec.EncounterID
	if rec.TestName != d.testName {
		return feature, false
	}
	result, err := parseNumber(rec.NumericResult)
	if err != nil {
		return feature, true
	}
	feature.HDLCategory = HDLCategory(result)
	return feature, false
}

// DeriveAll filters and categorises in input order.
func (d *LabDeriver) DeriveAll(records []models.LabRecord) ([]models.LabFeature, models.RowIssues) {
	var issues models.RowIssues
	out := make([]models.LabFeature, 0, len(records))
	for _, rec := range records {
		if !d.Keep(rec) {
			continue
		}
		feature, invalid := d.Derive(rec)
		if invalid {
			issues.InvalidLabResult++
		}
		out = append(out, feature)
	}
	return out, issues
}

func HDLCategory(result float64) string {
	switch {
	case result > 1.6:
		return models.HDLGood
	case result >= 0.9:
		return models.HDLNormal
	default:
		return models.HDLPoor
	}
}
