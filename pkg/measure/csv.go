package measure

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// WriteCSV exports the raw samples and the summary of a run as two CSV
// files under dir, named after the run ID. It returns the paths of the
// samples file and the summary file.
func WriteCSV(dir string, report *Report, samples []Sample) (string, string, error) {
	if report == nil {
		return "", "", fmt.Errorf("report is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	samplesPath := filepath.Join(dir, fmt.Sprintf("samples-%s.csv", report.RunID))
	if err := writeSamplesCSV(samplesPath, samples); err != nil {
		return "", "", err
	}

	summaryPath := filepath.Join(dir, fmt.Sprintf("summary-%s.csv", report.RunID))
	if err := writeSummaryCSV(summaryPath, report); err != nil {
		return "", "", err
	}
	return samplesPath, summaryPath, nil
}

func writeSamplesCSV(path string, samples []Sample) error {
	records := make([][]string, 0, len(samples)+1)
	records = append(records, []string{"worker", "seq", "status", "latency_ms", "error"})
	for _, s := range samples {
		records = append(records, []string{
			strconv.Itoa(s.Worker),
			strconv.Itoa(s.Seq),
			strconv.Itoa(s.Status),
			formatMillis(s.Latency.Seconds()),
			s.Err,
		})
	}
	return writeRecords(path, records)
}

func writeSummaryCSV(path string, report *Report) error {
	records := [][]string{
		{
			"run_id", "entity", "workers", "iterations",
			"total", "succeeded", "failed", "elapsed_ms",
			"min_ms", "avg_ms", "p50_ms", "p95_ms", "max_ms",
			"requests_per_second",
		},
		{
			report.RunID,
			report.Entity,
			strconv.Itoa(report.Workers),
			strconv.Itoa(report.Iterations),
			strconv.Itoa(report.Total),
			strconv.Itoa(report.Succeeded),
			strconv.Itoa(report.Failed),
			formatMillis(report.Elapsed.Seconds()),
			formatMillis(report.MinLatency.Seconds()),
			formatMillis(report.AvgLatency.Seconds()),
			formatMillis(report.P50Latency.Seconds()),
			formatMillis(report.P95Latency.Seconds()),
			formatMillis(report.MaxLatency.Seconds()),
			strconv.FormatFloat(report.RequestsPerSecond, 'f', 2, 64),
		},
	}
	return writeRecords(path, records)
}

func writeRecords(path string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// formatMillis renders a duration given in seconds as milliseconds with
// microsecond precision.
func formatMillis(seconds float64) string {
	return strconv.FormatFloat(seconds*1000, 'f', 3, 64)
}
