// Package scoring assigns the additive cardiovascular risk points for a merged record.
//
// Each factor is looked up independently; any combination not listed in a table,
// including an empty band or an unrecognised gender, scores zero.
package scoring

import (
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

type bandGender struct {
	band   string
	gender string
}

var ageScores = map[bandGender]int{
	{models.AgeBelow45, models.GenderMale}:   5,
	{models.AgeBelow45, models.GenderFemale}: 4,
	{models.Age45To65, models.GenderMale}:    10,
	{models.Age45To65, models.GenderFemale}:  8,
	{models.AgeAbove65, models.GenderMale}:   15,
	{models.AgeAbove65, models.GenderFemale}: 12,
}

var bpScores = map[bandGender]int{
	{models.BPStable, models.GenderMale}:   2,
	{models.BPStable, models.GenderFemale}: 3,
	{models.BPHigh, models.GenderMale}:     4,
	{models.BPHigh, models.GenderFemale}:   5,
}

var smokingScores = map[bandGender]int{
	{models.Yes, models.GenderMale}:   4,
	{models.Yes, models.GenderFemale}: 3,
}

var diabetesScores = map[string]int{
	models.Yes: 2,
}

var hdlScores = map[string]int{
	models.HDLGood:   -1,
	models.HDLNormal: 0,
	models.HDLPoor:   1,
}

func AgeScore(band, gender string) int {
	return ageScores[bandGender{band, gender}]
}

// BPScore is zero for "Good" regardless of gender.
func BPScore(band, gender string) int {
	return bpScores[bandGender{band, gender}]
}

func SmokingScore(status, gender string) int {
	return smokingScores[bandGender{status, gender}]
}

func DiabetesScore(flag string) int {
	return diabetesScores[flag]
}

func HDLScore(category string) int {
	return hdlScores[category]
}

// RiskLabel buckets a total: below 10 low, 10 through 20 moderate, above 20 high.
func RiskLabel(total int) string {
	switch {
	case total < 10:
		return models.RiskLow
	case total <= 20:
		return models.RiskModerate
	default:
		return models.RiskHigh
	}
}

func Score(rec models.MergedRecord) models.Scores {
	s := models.Scores{
		Age:      AgeScore(rec.AgeCategory, rec.Gender),
		BP:       BPScore(rec.SystolicBPCategory, rec.Gender),
		Smoking:  SmokingScore(rec.SmokingStatus, rec.Gender),
		Diabetes: DiabetesScore(rec.DiabetesFlag),
		HDL:      HDLScore(rec.HDLCategory),
	}
	s.Total = s.Age + s.BP + s.Smoking + s.Diabetes + s.HDL
	s.Label = RiskLabel(s.Total)
	return s
}

// ScoreAll fills Scores on every record in place.
func ScoreAll(records []models.MergedRecord) {
	for i := range records {
		records[i].Scores = Score(records[i])
	}
}
