package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("risk run not found")

type RunModel struct {
	ID            string         `gorm:"primaryKey;column:id"`
	ReferenceDate string         `gorm:"column:reference_date"`
	NoteRows      int            `gorm:"column:note_rows"`
	LabRows       int            `gorm:"column:lab_rows"`
	MergedRows    int            `gorm:"column:merged_rows"`
	Summary       datatypes.JSON `gorm:"column:summary"`
	StartedAt     time.Time      `gorm:"column:started_at"`
	CompletedAt   time.Time      `gorm:"column:completed_at"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (RunModel) TableName() string {
	return "risk_runs"
}

type RecordModel struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement;column:id"`
	RunID              string    `gorm:"column:run_id;index"`
	Position           int       `gorm:"column:position"`
	EncounterID        string    `gorm:"column:encounter_id;index"`
	AgeCategory        string    `gorm:"column:age_category"`
	SystolicBPCategory string    `gorm:"column:systolic_bp_category"`
	HypertensionFlag   string    `gorm:"column:hypertension_flag"`
	DiabetesFlag       string    `gorm:"column:diabetes_flag"`
	Gender             string    `gorm:"column:gender"`
	Diagnosis          string    `gorm:"column:diagnosis"`
	SmokingStatus      string    `gorm:"column:smoking_status"`
	HDLCategory        string    `gorm:"column:hdl_category"`
	LabMatched         bool      `gorm:"column:lab_matched"`
	AgeScore           int       `gorm:"column:age_score"`
	BPScore            int       `gorm:"column:bp_score"`
	SmokingScore       int       `gorm:"column:smoking_score"`
	DiabetesScore      int       `gorm:"column:diabetes_score"`
	HDLScore           int       `gorm:"column:hdl_score"`
	RiskScore          int       `gorm:"column:risk_score"`
	RiskLabel          string    `gorm:"column:risk_label"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

func (RecordModel) TableName() string {
	return "risk_records"
}

type RunRepository struct {
	db        *gorm.DB
	batchSize int
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db, batchSize: 500}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{}, &RecordModel{})
}

// SaveRun stores the summary and every scored row in one transaction.
func (r *RunRepository) SaveRun(ctx context.Context, summary models.RunSummary, records []models.MergedRecord) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	run := &RunModel{
		ID:            summary.RunID,
		ReferenceDate: summary.ReferenceDate,
		NoteRows:      summary.NoteRows,
		LabRows:       summary.LabRows,
		MergedRows:    len(records),
		Summary:       datatypes.JSON(raw),
		StartedAt:     summary.StartedAt,
		CompletedAt:   summary.CompletedAt,
		CreatedAt:     now,
	}
	rows := make([]RecordModel, len(records))
	for i, rec := range records {
		rows[i] = toRecordModel(summary.RunID, i, rec)
		rows[i].CreatedAt = now
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		// Already inside a transaction; skip the per-call savepoint.
		return tx.Session(&gorm.Session{SkipDefaultTransaction: true}).CreateInBatches(rows, r.batchSize).Error
	})
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	var summary models.RunSummary
	if err := json.Unmarshal(run.Summary, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListRecords returns a run's rows in their original output order.
func (r *RunRepository) ListRecords(ctx context.Context, runID string) ([]models.MergedRecord, error) {
	var rows []RecordModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.MergedRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// LatestForEncounter returns the encounter's rows from the most recent run that scored it.
func (r *RunRepository) LatestForEncounter(ctx context.Context, encounterID string) ([]models.MergedRecord, error) {
	var latest RecordModel
	result := r.db.WithContext(ctx).
		Where("encounter_id = ?", encounterID).
		Order("created_at desc").
		First(&latest)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	var rows []RecordModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND encounter_id = ?", latest.RunID, encounterID).
		Order("position asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.MergedRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func toRecordModel(runID string, position int, rec models.MergedRecord) RecordModel {
	return RecordModel{
		RunID:              runID,
		Position:           position,
		EncounterID:        rec.EncounterID,
		AgeCategory:        rec.AgeCategory,
		SystolicBPCategory: rec.SystolicBPCategory,
		HypertensionFlag:   rec.HypertensionFlag,
		DiabetesFlag:       rec.DiabetesFlag,
		Gender:             rec.Gender,
		Diagnosis:          rec.Diagnosis,
		SmokingStatus:      rec.SmokingStatus,
		HDLCategory:        rec.HDLCategory,
		LabMatched:         rec.LabMatched,
		AgeScore:           rec.Scores.Age,
		BPScore:            rec.Scores.BP,
		SmokingScore:       rec.Scores.Smoking,
		DiabetesScore:      rec.Scores.Diabetes,
		HDLScore:           rec.Scores.HDL,
		RiskScore:          rec.Scores.Total,
		RiskLabel:          rec.Scores.Label,
	}
}

func (m RecordModel) toDomain() models.MergedRecord {
	return models.MergedRecord{
		NoteFeatures: models.NoteFeatures{
			EncounterID:        m.EncounterID,
			AgeCategory:        m.AgeCategory,
			SystolicBPCategory: m.SystolicBPCategory,
			HypertensionFlag:   m.HypertensionFlag,
			DiabetesFlag:       m.DiabetesFlag,
			Gender:             m.Gender,
			Diagnosis:          m.Diagnosis,
			SmokingStatus:      m.SmokingStatus,
		},
		HDLCategory: m.HDLCategory,
		LabMatched:  m.LabMatched,
		Scores: models.Scores{
			Age:      m.AgeScore,
			BP:       m.BPScore,
			Smoking:  m.SmokingScore,
			Diabetes: m.DiabetesScore,
			HDL:      m.HDLScore,
			Total:    m.RiskScore,
			Label:    m.RiskLabel,
		},
	}
}
