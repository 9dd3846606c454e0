package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kgingest/internal/audit"
	"kgingest/internal/orchestrator"
)

// Persistence across CLI invocations is file-based: there is no long-lived
// daemon holding the Orchestrator, so "run" writes the finished job's
// telemetry and audit report to storeDir, and "status"/"report" read them
// back. "stop" signals a concurrently running "run" invocation via its PID
// file, mirroring the single-process job lock spec.md §5 describes.
const (
	jobFileName    = "last_job.json"
	reportFileName = "last_report.json"
	pidFileName    = "run.pid"
)

func saveJob(job *orchestrator.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(storeDir, jobFileName), data, 0644)
}

func loadJob() (*orchestrator.Job, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, jobFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var job orchestrator.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func saveReport(report *audit.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(storeDir, reportFileName), data, 0644)
}

func loadReport() (*audit.Report, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, reportFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var report audit.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func writePIDFile() error {
	return os.WriteFile(filepath.Join(storeDir, pidFileName), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func removePIDFile() {
	_ = os.Remove(filepath.Join(storeDir, pidFileName))
}

func readPIDFile() (int, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, pidFileName))
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}
