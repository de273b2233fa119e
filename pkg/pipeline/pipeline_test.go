package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"github.com/synaptica-ai/cardiorisk/pkg/features"
	"github.com/synaptica-ai/cardiorisk/pkg/loader"
	"github.com/synaptica-ai/cardiorisk/pkg/report"
)

const notesCSV = `Encounter_ID,Patient_DOB,Patient_Gender,Systolic_BP,Notes,Diagnosis
E1,1973-12-03,M,130,Patient smokes daily. History of Diabetes.,Chest pain
E2,1953-12-03,F,150,,Hypertension
E3,1990-06-01,F,118,routine visit,
E4,1960-02-10,M,abc,known HTN,
`

const labsCSV = `Encounter_ID,Test_Name,Numeric_Result,Units
E1,HDL-C,1.7,mmol/L
E2,HDL-C,0.5,mmol/L
E2,LDL-C,4.1,mmol/L
E4,HDL-C,1.2,mmol/L
E4,HDL-C,1.8,mmol/L
`

func newPipeline(t *testing.T, workers int) *Pipeline {
	t.Helper()
	p, err := New(Options{
		ReferenceDate: time.Date(2023, time.December, 3, 0, 0, 0, 0, time.UTC),
		Rules:         features.DefaultRules(),
		Workers:       workers,
		Loader:        loader.DefaultOptions(),
	})
	require.NoError(t, err)
	return p
}

func inputs(notes, labs string) Inputs {
	return Inputs{
		Notes:       strings.NewReader(notes),
		NotesFormat: loader.FormatCSV,
		Labs:        strings.NewReader(labs),
		LabsFormat:  loader.FormatCSV,
	}
}

func TestRunEndToEnd(t *testing.T) {
	p := newPipeline(t, 1)
	result, err := p.RunWithID(context.Background(), "run-1", inputs(notesCSV, labsCSV))
	require.NoError(t, err)

	records := result.Records
	require.Len(t, records, 5)

	assert.Equal(t, "E1", records[0].EncounterID)
	assert.Equal(t, 17, records[0].Scores.Total)
	assert.Equal(t, models.RiskModerate, records[0].Scores.Label)

	// Missing notes suppress the diagnosis term.
	assert.Equal(t, "E2", records[1].EncounterID)
	assert.Equal(t, models.No, records[1].HypertensionFlag)
	assert.Equal(t, models.AgeAbove65, records[1].AgeCategory)
	assert.Equal(t, 18, records[1].Scores.Total)

	assert.Equal(t, "E3", records[2].EncounterID)
	assert.False(t, records[2].LabMatched)
	assert.Equal(t, 4, records[2].Scores.Total)
	assert.Equal(t, models.RiskLow, records[2].Scores.Label)

	assert.Equal(t, "E4", records[3].EncounterID)
	assert.Equal(t, "E4", records[4].EncounterID)
	assert.Empty(t, records[3].SystolicBPCategory)
	assert.Equal(t, models.Yes, records[3].HypertensionFlag)
	assert.Equal(t, models.HDLNormal, records[3].HDLCategory)
	assert.Equal(t, models.HDLGood, records[4].HDLCategory)
	assert.Equal(t, models.RiskModerate, records[3].Scores.Label)
	assert.Equal(t, models.RiskLow, records[4].Scores.Label)

	s := result.Summary
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, "2023-12-03", s.ReferenceDate)
	assert.Equal(t, 4, s.NoteRows)
	assert.Equal(t, 5, s.LabRows)
	assert.Equal(t, 4, s.HDLRows)
	assert.Equal(t, 1, s.Issues.InvalidBP)
	assert.Equal(t, 1, s.Join.UnmatchedEncounters)
	assert.Equal(t, []string{"E4"}, s.Join.FannedOutEncounters)
	assert.Equal(t, 5, s.Join.MergedRows)
	assert.Equal(t, map[string]int{
		models.RiskLow:      2,
		models.RiskModerate: 3,
		models.RiskHigh:     0,
	}, s.Labels)
}

func TestRunIsDeterministic(t *testing.T) {
	p := newPipeline(t, 1)
	var outputs []string
	for i := 0; i < 2; i++ {
		result, err := p.Run(context.Background(), inputs(notesCSV, labsCSV))
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, report.WriteCSV(&buf, result.Records))
		outputs = append(outputs, buf.String())
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestWorkersDoNotChangeOutput(t *testing.T) {
	var b strings.Builder
	b.WriteString("Encounter_ID,Patient_DOB,Patient_Gender,Systolic_BP,Notes,Diagnosis\n")
	for i := 0; i < 200; i++ {
		gender := "M"
		if i%2 == 0 {
			gender = "F"
		}
		fmt.Fprintf(&b, "E%d,19%02d-03-15,%s,%d,note %d smokes,Diabetes\n", i, 30+i%70, gender, 100+i%60, i)
	}

	serial, err := newPipeline(t, 1).Run(context.Background(), inputs(b.String(), labsCSV))
	require.NoError(t, err)
	parallel, err := newPipeline(t, 7).Run(context.Background(), inputs(b.String(), labsCSV))
	require.NoError(t, err)

	assert.Equal(t, serial.Records, parallel.Records)
	assert.Equal(t, serial.Summary.Issues, parallel.Summary.Issues)
}

func TestMissingColumnsIsFatal(t *testing.T) {
	p := newPipeline(t, 1)
	_, err := p.Run(context.Background(), inputs(notesCSV, "Encounter_ID,Numeric_Result\nE1,1.0\n"))
	require.Error(t, err)
	assert.True(t, loader.IsMissingColumns(err))
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPipeline(t, 1).Run(ctx, inputs(notesCSV, labsCSV))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.csv")
	labs := filepath.Join(dir, "labs.csv")
	require.NoError(t, os.WriteFile(notes, []byte(notesCSV), 0o600))
	require.NoError(t, os.WriteFile(labs, []byte(labsCSV), 0o600))

	result, err := newPipeline(t, 2).RunFiles(context.Background(), notes, labs)
	require.NoError(t, err)
	assert.Len(t, result.Records, 5)

	_, err = newPipeline(t, 1).RunFiles(context.Background(), filepath.Join(dir, "absent.csv"), labs)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
