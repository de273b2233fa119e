package join

import (
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

// LeftJoin pairs every notes row with each lab row sharing its encounter id, in notes
// order and then lab order. Notes rows without a lab row appear once with LabMatched
// false. Rows are not deduplicated: an encounter with N lab rows yields N merged rows.
func LeftJoin(notes []models.NoteFeatures, labs []models.LabFeature) ([]models.MergedRecord, models.JoinSummary) {
	byEncounter := make(map[string][]models.LabFeature)
	for _, lab := range labs {
		byEncounter[lab.EncounterID] = append(byEncounter[lab.EncounterID], lab)
	}

	stats := models.JoinSummary{NoteRows: len(notes), LabRows: len(labs)}
	seenFanOut := make(map[string]struct{})
	merged := make([]models.MergedRecord, 0, len(notes))

	for _, note := range notes {
		matches := byEncounter[note.EncounterID]
		switch len(matches) {
		case 0:
			stats.UnmatchedEncounters++
			merged = append(merged, models.MergedRecord{NoteFeatures: note})
			continue
		case 1:
		default:
			if _, ok := seenFanOut[note.EncounterID]; !ok {
				seenFanOut[note.EncounterID] = struct{}{}
				stats.MultiMatchEncounters++
				stats.FannedOutEncounters = append(stats.FannedOutEncounters, note.EncounterID)
			}
		}
		for _, lab := range matches {
			merged = append(merged, models.MergedRecord{
				NoteFeatures: note,
				HDLCategory:  lab.HDLCategory,
				LabMatched:   true,
			})
		}
	}

	stats.MergedRows = len(merged)
	return merged, stats
}
