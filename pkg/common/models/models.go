package models

import (
	"time"
)

// Categorical labels produced by the feature derivers.
const (
	AgeBelow45 = "Below 45 years"
	Age45To65  = "45-65 years"
	AgeAbove65 = "Above 65 years"

	BPGood   = "Good"
	BPStable = "Stable"
	BPHigh   = "High"

	HDLGood   = "Good"
	HDLNormal = "Normal"
	HDLPoor   = "Poor"

	Yes = "Yes"
	No  = "No"

	GenderMale   = "M"
	GenderFemale = "F"

	RiskLow      = "Low risk"
	RiskModerate = "Moderate risk"
	RiskHigh     = "High risk"
)

// Encounter notes input row.
type NoteRecord struct {
	EncounterID string  `json:"encounter_id"`
	DOB         string  `json:"patient_dob"`
	Gender      string  `json:"patient_gender"`
	SystolicBP  string  `json:"systolic_bp"`
	Notes       *string `json:"notes,omitempty"` // nil when the cell is missing
	Diagnosis   string  `json:"diagnosis"`
}

// Lab results input row.
type LabRecord struct {
	EncounterID   string `json:"encounter_id"`
	TestName      string `json:"test_name"`
	NumericResult string `json:"numeric_result"`
	Units         string `json:"units"`
}

// NoteFeatures is the projected notes table. AgeYears and the *Mention flags are
// retained for auditing only.
type NoteFeatures struct {
	EncounterID        string `json:"encounter_id"`
	AgeCategory        string `json:"age_category"`
	SystolicBPCategory string `json:"systolic_bp_category"`
	HypertensionFlag   string `json:"diagnosis_notes_with_hypertension"`
	DiabetesFlag       string `json:"diagnosis_notes_with_diabetes"`
	Gender             string `json:"patient_gender"`
	Diagnosis          string `json:"diagnosis"`
	SmokingStatus      string `json:"smoking_status"`

	AgeYears            *int `json:"age_years,omitempty"`
	HypertensionMention bool `json:"-"`
	DiabetesMention     bool `json:"-"`
}

type LabFeature struct {
	EncounterID string `json:"encounter_id"`
	HDLCategory string `json:"hdl_category"`
}

type Scores struct {
	Age      int    `json:"age_category_score"`
	BP       int    `json:"systolic_bp_category_score"`
	Smoking  int    `json:"smoking_category_score"`
	Diabetes int    `json:"diabetes_category_score"`
	HDL      int    `json:"hdl_category_score"`
	Total    int    `json:"risk_score"`
	Label    string `json:"risk_score_category"`
}

type MergedRecord struct {
	NoteFeatures
	HDLCategory string `json:"hdl_category"`
	LabMatched  bool   `json:"lab_matched"`
	Scores      Scores `json:"scores"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // risk.scored, risk.run.request
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// RowIssues counts row-level derivation failures that were tolerated.
type RowIssues struct {
	InvalidDOB       int `json:"invalid_dob"`
	AgeOutOfRange    int `json:"age_out_of_range"`
	InvalidBP        int `json:"invalid_bp"`
	InvalidLabResult int `json:"invalid_lab_result"`
}

type JoinSummary struct {
	NoteRows             int      `json:"note_rows"`
	LabRows              int      `json:"lab_rows"`
	MergedRows           int      `json:"merged_rows"`
	UnmatchedEncounters  int      `json:"unmatched_encounters"`
	MultiMatchEncounters int      `json:"multi_match_encounters"`
	FannedOutEncounters  []string `json:"fanned_out_encounters,omitempty"`
}

type RunSummary struct {
	RunID         string         `json:"run_id"`
	ReferenceDate string         `json:"reference_date"`
	NoteRows      int            `json:"note_rows"`
	LabRows       int            `json:"lab_rows"`
	HDLRows       int            `json:"hdl_rows"`
	Join          JoinSummary    `json:"join"`
	Issues        RowIssues      `json:"issues"`
	Labels        map[string]int `json:"labels"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}
