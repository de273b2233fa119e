package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockRunRepository(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewRunRepository(db), mock
}

func scoredRecords(ids ...string) []models.MergedRecord {
	out := make([]models.MergedRecord, len(ids))
	for i, id := range ids {
		out[i] = models.MergedRecord{
			NoteFeatures: models.NoteFeatures{EncounterID: id, Gender: models.GenderFemale},
			Scores:       models.Scores{Total: i, Label: models.RiskLow},
		}
	}
	return out
}

func testSummary(runID string) models.RunSummary {
	return models.RunSummary{
		RunID:         runID,
		ReferenceDate: "2023-12-03",
		NoteRows:      3,
		LabRows:       2,
		Labels:        map[string]int{models.RiskLow: 3},
		StartedAt:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		CompletedAt:   time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC),
	}
}

func TestSaveRunBatchesInOneTransaction(t *testing.T) {
	repo, mock := setupMockRunRepository(t)
	repo.batchSize = 2

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "risk_runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "risk_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "risk_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectCommit()

	err := repo.SaveRun(context.Background(), testSummary("run-1"), scoredRecords("E1", "E2", "E3"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnRecordFailure(t *testing.T) {
	repo, mock := setupMockRunRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "risk_runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "risk_records"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveRun(context.Background(), testSummary("run-1"), scoredRecords("E1"))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWithoutRecords(t *testing.T) {
	repo, mock := setupMockRunRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "risk_runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveRun(context.Background(), testSummary("run-empty"), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunDecodesSummary(t *testing.T) {
	repo, mock := setupMockRunRepository(t)
	raw, err := json.Marshal(testSummary("run-1"))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_runs" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reference_date", "summary"}).
			AddRow("run-1", "2023-12-03", raw))

	summary, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 3, summary.Labels[models.RiskLow])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	repo, mock := setupMockRunRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_runs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsInPositionOrder(t *testing.T) {
	repo, mock := setupMockRunRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_records" WHERE run_id = $1 ORDER BY position asc`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "position", "encounter_id", "risk_score", "risk_label"}).
			AddRow(1, "run-1", 0, "E1", 17, models.RiskModerate).
			AddRow(2, "run-1", 1, "E2", 4, models.RiskLow))

	records, err := repo.ListRecords(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "E1", records[0].EncounterID)
	assert.Equal(t, 17, records[0].Scores.Total)
	assert.Equal(t, models.RiskLow, records[1].Scores.Label)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestForEncounterReadsNewestRun(t *testing.T) {
	repo, mock := setupMockRunRepository(t)
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_records" WHERE encounter_id = $1 ORDER BY created_at desc`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "position", "encounter_id", "created_at"}).
			AddRow(9, "run-2", 4, "E1", created))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_records" WHERE run_id = $1 AND encounter_id = $2 ORDER BY position asc`)).
		WithArgs("run-2", "E1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "position", "encounter_id", "hdl_category", "lab_matched"}).
			AddRow(8, "run-2", 3, "E1", models.HDLNormal, true).
			AddRow(9, "run-2", 4, "E1", models.HDLGood, true))

	records, err := repo.LatestForEncounter(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.HDLNormal, records[0].HDLCategory)
	assert.Equal(t, models.HDLGood, records[1].HDLCategory)
	assert.True(t, records[1].LabMatched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestForEncounterNotFound(t *testing.T) {
	repo, mock := setupMockRunRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "risk_records" WHERE encounter_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LatestForEncounter(context.Background(), "E404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
