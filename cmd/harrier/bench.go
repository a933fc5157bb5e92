package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	benchURL      string
	benchRequests int
	benchWorkers  int
	benchVerbose  bool
)

var benchCmd = &cobra.Command{
	Use:   "bench <dataset.csv|dataset.xlsx>",
	Short: "Load test a running Harrier against a dataset",
	Long: `bench uploads a dataset to a running server, then spreads requests over
the batch score, per-actor score and summary endpoints and finishes with one
assessment. It reports latency percentiles, throughput and the alert count.

  harrier bench threats.csv --url http://localhost:8080 --requests 5000 --workers 20`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchURL, "url", "http://localhost:8080", "Harrier base URL")
	benchCmd.Flags().IntVar(&benchRequests, "requests", 1000, "Total scoring requests")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 10, "Concurrent workers")
	benchCmd.Flags().BoolVar(&benchVerbose, "verbose", false, "Print each failed request")
	rootCmd.AddCommand(benchCmd)
}

// benchMetrics tracks benchmark results.
type benchMetrics struct {
	TotalProcessed int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *benchMetrics) record(d time.Duration, err error) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	if err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

// percentile expects sorted latencies.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: 30 * time.Second}

	if err := checkHealth(ctx, client, benchURL); err != nil {
		return fmt.Errorf("harrier not reachable at %s: %w", benchURL, err)
	}

	info, err := uploadFile(ctx, client, benchURL, args[0])
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Fprintf(out, "Dataset:  %s (%d rows, %d actors)\n", info.ID, info.Rows, info.Actors)

	var actors struct {
		Actors []string `json:"actors"`
	}
	if err := getJSON(ctx, client, benchURL+"/datasets/"+info.ID+"/actors", &actors); err != nil {
		return err
	}

	base := benchURL + "/datasets/" + info.ID
	paths := []string{base + "/scores", base + "/summary"}
	for _, actor := range actors.Actors {
		paths = append(paths, base+"/actors/"+url.PathEscape(actor)+"/score")
	}

	metrics := &benchMetrics{}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(benchWorkers)
	for i := 0; i < benchRequests; i++ {
		path := paths[i%len(paths)]
		g.Go(func() error {
			t := time.Now()
			err := getJSON(gctx, client, path, nil)
			metrics.record(time.Since(t), err)
			if err != nil && benchVerbose {
				fmt.Fprintf(out, "ERROR: %s -> %v\n", path, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	duration := time.Since(start)

	var assessment domain.Assessment
	if err := postJSON(ctx, client, base+"/assessments", &assessment); err != nil {
		return fmt.Errorf("assessment failed: %w", err)
	}

	printBenchResults(out, metrics, duration, &assessment)
	return nil
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	return getJSON(ctx, client, baseURL+"/health", nil)
}

func uploadFile(ctx context.Context, client *http.Client, baseURL, path string) (*domain.DatasetInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	target := baseURL + "/datasets?name=" + url.QueryEscape(filepath.Base(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, f)
	if err != nil {
		return nil, err
	}

	var info domain.DatasetInfo
	if err := do(client, req, http.StatusCreated, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return do(client, req, http.StatusOK, v)
}

func postJSON(ctx context.Context, client *http.Client, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	return do(client, req, http.StatusCreated, v)
}

func do(client *http.Client, req *http.Request, want int, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if v == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printBenchResults(w io.Writer, m *benchMetrics, duration time.Duration, a *domain.Assessment) {
	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                      BENCHMARK RESULTS                        ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════╝")

	fmt.Fprintf(w, "\nREQUESTS\n")
	fmt.Fprintf(w, "   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(w, "   Errors:           %d\n", m.TotalErrors)

	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 && duration > 0 {
		fmt.Fprintf(w, "   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Fprintf(w, "   p50 Latency:      %v\n", percentile(m.latencies, 0.50))
	fmt.Fprintf(w, "   p95 Latency:      %v\n", percentile(m.latencies, 0.95))
	fmt.Fprintf(w, "   p99 Latency:      %v\n", percentile(m.latencies, 0.99))

	fmt.Fprintf(w, "\nASSESSMENT\n")
	fmt.Fprintf(w, "   ID:               %s\n", a.ID)
	fmt.Fprintf(w, "   Status:           %s\n", a.Status)
	fmt.Fprintf(w, "   Actors Alerted:   %d / %d\n", a.Metadata.ActorsAlerted, a.Metadata.ActorsScored)
	fmt.Fprintf(w, "   Scoring:          %d ms\n", a.Metadata.ScoringMs)
	fmt.Fprintln(w)
}
