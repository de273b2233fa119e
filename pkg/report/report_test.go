package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"github.com/xuri/excelize/v2"
)

var sample = []models.MergedRecord{
	{
		NoteFeatures: models.NoteFeatures{
			EncounterID:        "E1",
			AgeCategory:        models.Age45To65,
			SystolicBPCategory: models.BPStable,
			HypertensionFlag:   models.No,
			DiabetesFlag:       models.Yes,
			Gender:             models.GenderMale,
			Diagnosis:          "Chest pain, atypical",
			SmokingStatus:      models.Yes,
		},
		HDLCategory: models.HDLGood,
		LabMatched:  true,
		Scores:      models.Scores{Age: 10, BP: 2, Smoking: 4, Diabetes: 2, HDL: -1, Total: 17, Label: models.RiskModerate},
	},
	{
		NoteFeatures: models.NoteFeatures{EncounterID: "E2", Gender: models.GenderFemale},
		Scores:       models.Scores{Label: models.RiskLow},
	},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"E1", "45-65 years", "Stable", "No", "Yes", "M", "Chest pain, atypical", "Yes", "Good",
		"10", "2", "4", "2", "-1", "17", "Moderate risk",
	}, rows[1])
	assert.Equal(t, "", rows[2][8])
	assert.Equal(t, "Low risk", rows[2][15])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, Row(sample[0]), rows[1])
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "parquet", sample))
	assert.NoError(t, Write(&bytes.Buffer{}, "", sample))
}
