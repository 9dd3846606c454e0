package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kgingest/internal/audit"
	"kgingest/internal/orchestrator"
)

var (
	runProfile string
	runScope   string
	runSince   string
	runReset   bool
	runStrict  bool
)

// runCmd starts a pipeline run and blocks until it finishes, a signal
// requests cancellation, or the store reports a job is already in flight.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the repository into the knowledge graph",
	Long: `run executes the full C2-C9/C11 pipeline against --repo: scan,
delta-plan, commit history, chunking, symbol/library extraction, sprint
mapping, cross-referencing, relationship derivation, and a closing audit.

Examples:
  kgingest run --profile=full
  kgingest run --profile=delta --since=a1b2c3d
  kgingest run --profile=quick --scope=internal/graphstore --strict`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runProfile, "profile", "delta", "Ingestion profile: full, delta, or quick")
	runCmd.Flags().StringVar(&runScope, "scope", "", "Subpath to scope the scan to (default: whole repo)")
	runCmd.Flags().StringVar(&runSince, "since", "", "Commit hash to ingest history from (default: manifest's last ingested commit)")
	runCmd.Flags().BoolVar(&runReset, "reset", false, "Drop and recreate the graph schema before running")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Abort the job on the first per-stage error")
}

func runRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePIDFile()

	o := orchestrator.New(store, repoRoot, storeDir, cfg.Pipeline.MaxWorkers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	jobID, err := o.Start(orchestrator.Options{
		Profile:    runProfile,
		Scope:      runScope,
		Since:      runSince,
		ResetGraph: runReset,
		Strict:     runStrict,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	fmt.Printf("job %s started (profile=%s)\n", jobID, runProfile)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nstop requested, cancelling job...")
			_ = o.Stop()
		case <-done:
		}
	}()

	var job *orchestrator.Job
	for {
		job = o.Status()
		if job.Status != orchestrator.StatusRunning {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	close(done)

	if err := saveJob(job); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save job telemetry: %v\n", err)
	}
	printJobSummary(job)

	if job.Status == orchestrator.StatusSucceeded {
		report := audit.Run(store)
		if err := saveReport(report); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save audit report: %v\n", err)
		}
		fmt.Printf("quality score: %.1f%s\n", report.QualityScore, excellentSuffix(report))
	}

	os.Exit(exitCodeFor(job.Status))
	return nil
}

func excellentSuffix(r *audit.Report) string {
	if r.Excellent {
		return " (excellent)"
	}
	return ""
}

func exitCodeFor(status orchestrator.JobStatus) int {
	switch status {
	case orchestrator.StatusSucceeded:
		return 0
	case orchestrator.StatusCancelled:
		return 2
	default:
		return 1
	}
}

func printJobSummary(job *orchestrator.Job) {
	duration := job.EndedAt.Sub(job.StartedAt)
	fmt.Printf("job %s: %s, started %s, took %s\n", job.ID, job.Status, humanize.Time(job.StartedAt), duration.Round(time.Millisecond))
	for _, st := range job.Stages {
		fmt.Printf("  %-14s %6dms  %v\n", st.Stage, st.DurationMS, st.Counters)
		if len(st.Errors) > 0 {
			fmt.Printf("    %d error(s), e.g. %s\n", len(st.Errors), st.Errors[0])
		}
	}
	if job.Error != "" {
		fmt.Printf("error: %s\n", job.Error)
	}
}

// statusCmd prints the last run's telemetry.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last pipeline run's status and stage telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := loadJob()
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Println("no job has run yet")
			return nil
		}
		printJobSummary(job)
		return nil
	},
}

// stopCmd signals a concurrently running "run" invocation to cancel.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel a currently running pipeline invocation",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPIDFile()
		if err != nil {
			fmt.Println("no run is currently in progress")
			return nil
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal run process (pid %d): %w", pid, err)
		}
		fmt.Printf("sent stop signal to pid %d\n", pid)
		return nil
	},
}

// reportCmd prints the last successful audit report.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the last successful audit report",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := loadReport()
		if err != nil {
			return err
		}
		if report == nil {
			fmt.Println("no audit report available yet; run \"kgingest run\" or \"kgingest audit\" first")
			return nil
		}
		printReport(report)
		return nil
	},
}
