package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

var (
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	rowsScored        atomic.Int64
	lastRunLow        atomic.Int64
	lastRunModerate   atomic.Int64
	lastRunHigh       atomic.Int64
	lastRunFannedOut  atomic.Int64
	lastRunUnmatched  atomic.Int64
	lastRunRowIssues  atomic.Int64
	lastRunDurationMs atomic.Int64
)

func ObserveRun(summary models.RunSummary) {
	runsCompleted.Add(1)
	rowsScored.Add(int64(summary.Join.MergedRows))
	lastRunLow.Store(int64(summary.Labels[models.RiskLow]))
	lastRunModerate.Store(int64(summary.Labels[models.RiskModerate]))
	lastRunHigh.Store(int64(summary.Labels[models.RiskHigh]))
	lastRunFannedOut.Store(int64(summary.Join.MultiMatchEncounters))
	lastRunUnmatched.Store(int64(summary.Join.UnmatchedEncounters))
	issues := summary.Issues.InvalidDOB + summary.Issues.AgeOutOfRange + summary.Issues.InvalidBP + summary.Issues.InvalidLabResult
	lastRunRowIssues.Store(int64(issues))
	lastRunDurationMs.Store(summary.CompletedAt.Sub(summary.StartedAt).Milliseconds())
}

func ObserveFailure() {
	runsFailed.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP cardiorisk_runs_completed_total Number of scoring runs completed.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_runs_completed_total counter\n")
	fmt.Fprintf(w, "cardiorisk_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_runs_failed_total Number of scoring runs rejected or failed.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_runs_failed_total counter\n")
	fmt.Fprintf(w, "cardiorisk_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_rows_scored_total Number of merged rows scored across all runs.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_rows_scored_total counter\n")
	fmt.Fprintf(w, "cardiorisk_rows_scored_total %d\n", rowsScored.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_last_run_rows Rows per risk label in the latest run.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_last_run_rows gauge\n")
	fmt.Fprintf(w, "cardiorisk_last_run_rows{label=\"low\"} %d\n", lastRunLow.Load())
	fmt.Fprintf(w, "cardiorisk_last_run_rows{label=\"moderate\"} %d\n", lastRunModerate.Load())
	fmt.Fprintf(w, "cardiorisk_last_run_rows{label=\"high\"} %d\n", lastRunHigh.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_last_run_fanned_out_encounters Encounters joined to more than one lab row in the latest run.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_last_run_fanned_out_encounters gauge\n")
	fmt.Fprintf(w, "cardiorisk_last_run_fanned_out_encounters %d\n", lastRunFannedOut.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_last_run_unmatched_encounters Encounters without any lab row in the latest run.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_last_run_unmatched_encounters gauge\n")
	fmt.Fprintf(w, "cardiorisk_last_run_unmatched_encounters %d\n", lastRunUnmatched.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_last_run_row_issues Tolerated row-level parse failures in the latest run.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_last_run_row_issues gauge\n")
	fmt.Fprintf(w, "cardiorisk_last_run_row_issues %d\n", lastRunRowIssues.Load())

	fmt.Fprintf(w, "# HELP cardiorisk_last_run_duration_milliseconds Wall time of the latest run.\n")
	fmt.Fprintf(w, "# TYPE cardiorisk_last_run_duration_milliseconds gauge\n")
	fmt.Fprintf(w, "cardiorisk_last_run_duration_milliseconds %d\n", lastRunDurationMs.Load())
}
