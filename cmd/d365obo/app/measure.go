package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/config"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/measure"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/networking"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/obo"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

// newMeasureCmd creates the measure command for running a capacity test.
func newMeasureCmd() *cobra.Command {
	var (
		workers    int
		iterations int
		entity     string
		query      string
		timeout    time.Duration
		token      string
		tokenFile  string
		csvDir     string
	)

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure downstream capacity with concurrent reads",
		Long: `Run concurrent authenticated reads through the token broker and OData
proxy against the configured Dynamics 365 F&O environment and report
latency and throughput.

The reads run on behalf of the user whose token is passed with --token
or --token-file, exactly as the serving path would handle them. Every
request carries an explicit timeout. Pass --csv to also export the raw
samples and the summary as CSV files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			assertion, err := resolveAssertion(token, tokenFile)
			if err != nil {
				return err
			}
			return runMeasure(cmd.Context(), measure.Config{
				Workers:    workers,
				Iterations: iterations,
				Entity:     entity,
				Query:      query,
				Timeout:    timeout,
				Assertion:  assertion,
			}, csvDir)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "Number of concurrent workers")
	cmd.Flags().IntVar(&iterations, "iterations", 10, "Reads issued by each worker")
	cmd.Flags().StringVar(&entity, "entity", "", "Entity set the reads target")
	cmd.Flags().StringVar(&query, "query", "", "OData query string appended to each read")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-request timeout")
	cmd.Flags().StringVar(&token, "token", "", "Inbound token the reads run on behalf of")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "File containing the inbound token")
	cmd.Flags().StringVar(&csvDir, "csv", "", "Directory to export the samples and summary CSV files to")
	_ = cmd.MarkFlagRequired("entity")
	cmd.MarkFlagsMutuallyExclusive("token", "token-file")

	return cmd
}

// resolveAssertion returns the inbound token from the flag or the file.
func resolveAssertion(token, tokenFile string) (string, error) {
	if token != "" {
		return token, nil
	}
	if tokenFile == "" {
		return "", fmt.Errorf("an inbound token is required, use --token or --token-file")
	}
	data, err := os.ReadFile(tokenFile) //nolint:gosec // path comes from a flag
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	assertion := strings.TrimSpace(string(data))
	if assertion == "" {
		return "", fmt.Errorf("token file %s is empty", tokenFile)
	}
	return assertion, nil
}

// runMeasure implements the measure command logic.
func runMeasure(ctx context.Context, cfg measure.Config, csvDir string) error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if missing := settings.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("measurement needs a complete identity configuration, missing: %s",
			strings.Join(missing, ", "))
	}

	httpClient, err := networking.NewHttpClientBuilder().
		WithCABundle(settings.CACertificatePath).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	exchanger, err := obo.NewExchanger(obo.Config{
		TokenURL:     settings.TokenEndpoint(),
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create exchanger: %w", err)
	}
	broker, err := obo.NewBroker(exchanger)
	if err != nil {
		return fmt.Errorf("failed to create token broker: %w", err)
	}
	proxy, err := odata.NewClient(odata.ClientConfig{
		Resource:   settings.Resource(),
		Broker:     broker,
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create downstream client: %w", err)
	}

	runner, err := measure.NewRunner(proxy)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	report, samples, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	printReport(report)

	if csvDir != "" {
		samplesPath, summaryPath, err := measure.WriteCSV(csvDir, report, samples)
		if err != nil {
			return fmt.Errorf("failed to export CSV: %w", err)
		}
		fmt.Printf("Samples written to %s\n", samplesPath)
		fmt.Printf("Summary written to %s\n", summaryPath)
	}
	if report.Failed > 0 {
		logger.Warnf("%d of %d requests failed", report.Failed, report.Total)
	}
	return nil
}

// printReport prints the aggregate results of a run.
func printReport(report *measure.Report) {
	fmt.Printf("Run %s against %s\n", report.RunID, report.Entity)
	fmt.Printf("Workers: %d, iterations per worker: %d\n", report.Workers, report.Iterations)
	fmt.Printf("Requests: %d total, %d succeeded, %d failed\n", report.Total, report.Succeeded, report.Failed)
	fmt.Printf("Elapsed: %s (%.1f req/s)\n", report.Elapsed.Round(time.Millisecond), report.RequestsPerSecond)
	fmt.Printf("Latency: min %s, avg %s, p50 %s, p95 %s, max %s\n",
		report.MinLatency.Round(time.Millisecond),
		report.AvgLatency.Round(time.Millisecond),
		report.P50Latency.Round(time.Millisecond),
		report.P95Latency.Round(time.Millisecond),
		report.MaxLatency.Round(time.Millisecond))
}
