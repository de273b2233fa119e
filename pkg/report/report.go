package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"github.com/xuri/excelize/v2"
)

// Columns is the scored output schema, in order.
var Columns = []string{
	"Encounter_ID",
	"Age_Category",
	"Systolic_BP_Category",
	"Diagnosis_Notes_With_Hypertension",
	"Diagnosis_Notes_With_Diabetes",
	"Patient_Gender",
	"Diagnosis",
	"Smoking_Status",
	"HDL_Category",
	"Age_Category_Score",
	"Systolic_BP_Category_Score",
	"Smoking_Category_Score",
	"Diabetes_Category_Score",
	"HDL_Category_Score",
	"Risk_Score",
	"Risk_Score_Category",
}

const sheetName = "Risk Scores"

// Row renders one record in Columns order.
func Row(r models.MergedRecord) []string {
	return []string{
		r.EncounterID,
		r.AgeCategory,
		r.SystolicBPCategory,
		r.HypertensionFlag,
		r.DiabetesFlag,
		r.Gender,
		r.Diagnosis,
		r.SmokingStatus,
		r.HDLCategory,
		strconv.Itoa(r.Scores.Age),
		strconv.Itoa(r.Scores.BP),
		strconv.Itoa(r.Scores.Smoking),
		strconv.Itoa(r.Scores.Diabetes),
		strconv.Itoa(r.Scores.HDL),
		strconv.Itoa(r.Scores.Total),
		r.Scores.Label,
	}
}

func WriteCSV(w io.Writer, records []models.MergedRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write(Row(r)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes a single-sheet workbook. Score columns are stored as numbers.
func WriteXLSX(w io.Writer, records []models.MergedRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.EncounterID, r.AgeCategory, r.SystolicBPCategory, r.HypertensionFlag,
			r.DiabetesFlag, r.Gender, r.Diagnosis, r.SmokingStatus, r.HDLCategory,
			r.Scores.Age, r.Scores.BP, r.Scores.Smoking, r.Scores.Diabetes, r.Scores.HDL,
			r.Scores.Total, r.Scores.Label,
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Write dispatches on an output format name ("csv" or "xlsx").
func Write(w io.Writer, format string, records []models.MergedRecord) error {
	switch format {
	case "", "csv":
		return WriteCSV(w, records)
	case "xlsx":
		return WriteXLSX(w, records)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
