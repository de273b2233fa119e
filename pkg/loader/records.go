package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

// Input column names.
const (
	ColEncounterID   = "Encounter_ID"
	ColPatientDOB    = "Patient_DOB"
	ColPatientGender = "Patient_Gender"
	ColSystolicBP    = "Systolic_BP"
	ColNotes         = "Notes"
	ColDiagnosis     = "Diagnosis"

	ColTestName      = "Test_Name"
	ColNumericResult = "Numeric_Result"
	ColUnits         = "Units"
)

var (
	NoteColumns = []string{ColEncounterID, ColPatientDOB, ColPatientGender, ColSystolicBP, ColNotes, ColDiagnosis}
	LabColumns  = []string{ColEncounterID, ColTestName, ColNumericResult, ColUnits}
)

// MissingColumnsError is a fatal configuration error raised before any row is read.
type MissingColumnsError struct {
	Table   string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s table missing required columns: %s", e.Table, strings.Join(e.Missing, ", "))
}

func IsMissingColumns(err error) bool {
	var mc *MissingColumnsError
	return errors.As(err, &mc)
}

// RequireColumns reports every absent column at once.
func RequireColumns(t *Table, name string, columns []string) error {
	var missing []string
	for _, c := range columns {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Table: name, Missing: missing}
	}
	return nil
}

func LoadNotes(t *Table) ([]models.NoteRecord, error) {
	if err := RequireColumns(t, "notes", NoteColumns); err != nil {
		return nil, err
	}
	out := make([]models.NoteRecord, t.Len())
	for i := range out {
		rec := models.NoteRecord{
			EncounterID: strings.TrimSpace(t.String(i, ColEncounterID)),
			DOB:         strings.TrimSpace(t.String(i, ColPatientDOB)),
			Gender:      strings.TrimSpace(t.String(i, ColPatientGender)),
			SystolicBP:  strings.TrimSpace(t.String(i, ColSystolicBP)),
			Diagnosis:   t.String(i, ColDiagnosis),
		}
		if notes, ok := t.Value(i, ColNotes); ok {
			rec.Notes = &notes
		}
		out[i] = rec
	}
	return out, nil
}

func LoadLabs(t *Table) ([]models.LabRecord, error) {
	if err := RequireColumns(t, "labs", LabColumns); err != nil {
		return nil, err
	}
	out := make([]models.LabRecord, t.Len())
	for i := range out {
		out[i] = models.LabRecord{
			EncounterID:   strings.TrimSpace(t.String(i, ColEncounterID)),
			TestName:      t.String(i, ColTestName),
			NumericResult: strings.TrimSpace(t.String(i, ColNumericResult)),
			Units:         t.String(i, ColUnits),
		}
	}
	return out, nil
}
