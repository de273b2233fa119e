package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/cardiorisk/pkg/common/config"
	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"github.com/synaptica-ai/cardiorisk/pkg/features"
	"github.com/synaptica-ai/cardiorisk/pkg/join"
	"github.com/synaptica-ai/cardiorisk/pkg/loader"
	"github.com/synaptica-ai/cardiorisk/pkg/scoring"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	ReferenceDate time.Time
	Rules         features.Rules
	Workers       int
	Loader        loader.Options
}

func OptionsFromConfig(cfg *config.Config, rules features.Rules) Options {
	return Options{
		ReferenceDate: cfg.ReferenceDate,
		Rules:         rules,
		Workers:       cfg.Workers,
		Loader:        loader.OptionsFromConfig(cfg),
	}
}

type Inputs struct {
	Notes       io.Reader
	NotesFormat loader.Format
	Labs        io.Reader
	LabsFormat  loader.Format
}

type Result struct {
	Summary models.RunSummary
	Records []models.MergedRecord
}

type Pipeline struct {
	opts  Options
	notes *features.NotesDeriver
	labs  *features.LabDeriver
}

func New(opts Options) (*Pipeline, error) {
	notes, err := features.NewNotesDeriver(opts.Rules, opts.ReferenceDate)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		opts:  opts,
		notes: notes,
		labs:  features.NewLabDeriver(opts.Rules),
	}, nil
}

// Run executes load, derive, join and score once over the two inputs.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	runID := uuid.New().String()
	return p.RunWithID(ctx, runID, in)
}

func (p *Pipeline) RunWithID(ctx context.Context, runID string, in Inputs) (*Result, error) {
	log := logger.ForRun(runID)
	started := time.Now().UTC()

	notesTable, err := loader.ReadTable(in.Notes, in.NotesFormat, p.opts.Loader)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}
	labsTable, err := loader.ReadTable(in.Labs, in.LabsFormat, p.opts.Loader)
	if err != nil {
		return nil, fmt.Errorf("loading labs: %w", err)
	}
	if err := loader.RequireColumns(notesTable, "notes", loader.NoteColumns); err != nil {
		return nil, err
	}
	if err := loader.RequireColumns(labsTable, "labs", loader.LabColumns); err != nil {
		return nil, err
	}

	noteRecords, err := loader.LoadNotes(notesTable)
	if err != nil {
		return nil, err
	}
	labRecords, err := loader.LoadLabs(labsTable)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"stage":     "load",
		"note_rows": len(noteRecords),
		"lab_rows":  len(labRecords),
	}).Info("inputs loaded")

	noteFeatures, issues, err := p.deriveNotes(ctx, noteRecords)
	if err != nil {
		return nil, err
	}
	labFeatures, labIssues := p.labs.DeriveAll(labRecords)
	issues.InvalidLabResult += labIssues.InvalidLabResult
	log.WithFields(logrus.Fields{
		"stage":         "derive",
		"hdl_rows":      len(labFeatures),
		"invalid_dob":   issues.InvalidDOB,
		"invalid_bp":    issues.InvalidBP,
		"invalid_lab":   issues.InvalidLabResult,
		"age_out_range": issues.AgeOutOfRange,
	}).Info("features derived")

	merged, joinStats := join.LeftJoin(noteFeatures, labFeatures)
	if joinStats.MultiMatchEncounters > 0 {
		log.WithFields(logrus.Fields{
			"stage":      "join",
			"encounters": joinStats.MultiMatchEncounters,
			"merged":     joinStats.MergedRows,
		}).Warn("encounters matched more than one lab row")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scoring.ScoreAll(merged)

	summary := models.RunSummary{
		RunID:         runID,
		ReferenceDate: p.opts.ReferenceDate.Format(config.DateLayout),
		NoteRows:      len(noteRecords),
		LabRows:       len(labRecords),
		HDLRows:       len(labFeatures),
		Join:          joinStats,
		Issues:        issues,
		Labels:        LabelCounts(merged),
		StartedAt:     started,
		CompletedAt:   time.Now().UTC(),
	}
	log.WithFields(logrus.Fields{
		"stage":  "score",
		"rows":   len(merged),
		"labels": summary.Labels,
	}).Info("risk scores computed")

	return &Result{Summary: summary, Records: merged}, nil
}

// deriveNotes fans rows out over the configured workers. Each worker owns a contiguous
// slice of the output, so row order is independent of scheduling.
func (p *Pipeline) deriveNotes(ctx context.Context, records []models.NoteRecord) ([]models.NoteFeatures, models.RowIssues, error) {
	out := make([]models.NoteFeatures, len(records))
	workers := p.opts.Workers
	if workers > len(records) {
		workers = len(records)
	}
	if workers <= 1 {
		var total models.RowIssues
		for i, rec := range records {
			f, iss := p.notes.Derive(rec)
			out[i] = f
			addIssues(&total, iss)
		}
		return out, total, nil
	}

	chunk := (len(records) + workers - 1) / workers
	partial := make([]models.RowIssues, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start, end := w*chunk, (w+1)*chunk
		if end > len(records) {
			end = len(records)
		}
		if start >= end {
			continue
		}
		w := w
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				f, iss := p.notes.Derive(records[i])
				out[i] = f
				addIssues(&partial[w], iss)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.RowIssues{}, err
	}

	var total models.RowIssues
	for _, iss := range partial {
		addIssues(&total, iss)
	}
	return out, total, nil
}

func addIssues(dst *models.RowIssues, src models.RowIssues) {
	dst.InvalidDOB += src.InvalidDOB
	dst.AgeOutOfRange += src.AgeOutOfRange
	dst.InvalidBP += src.InvalidBP
	dst.InvalidLabResult += src.InvalidLabResult
}

func LabelCounts(records []models.MergedRecord) map[string]int {
	counts := map[string]int{
		models.RiskLow:      0,
		models.RiskModerate: 0,
		models.RiskHigh:     0,
	}
	for _, r := range records {
		counts[r.Scores.Label]++
	}
	return counts
}
