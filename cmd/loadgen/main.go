// Command loadgen uploads synthetic sync archives to /v1/area and records
// per-request latency.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage/coveragetest"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

type Config struct {
	TargetURL      string
	Strategy       string
	Concurrency    int
	Duration       time.Duration
	RPS            float64
	ZipfS          float64
	ZipfV          float64
	Archives       int
	Pixels         int
	OutputPrefix   string
	RequestTimeout time.Duration
	Seed           int64
}

func loadConfig(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/v1/area", "Area endpoint URL")
	fs.StringVar(&cfg.Strategy, "strategy", "exact", "Strategy query value")
	fs.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	fs.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	fs.Float64Var(&cfg.RPS, "rps", 0, "Overall request rate cap (0 = unlimited)")
	fs.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	fs.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	fs.IntVar(&cfg.Archives, "archives", 32, "Distinct archives in the pool")
	fs.IntVar(&cfg.Pixels, "pixels", 20000, "Pixels per synthetic archive")
	fs.StringVar(&cfg.OutputPrefix, "out", "results/area", "Output file prefix (JSON/CSV)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	fs.Int64Var(&cfg.Seed, "seed", 0, "Workload seed (0 = time based)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Concurrency <= 0 || cfg.Archives <= 0 || cfg.Pixels <= 0 {
		return cfg, errors.New("concurrency, archives and pixels must be positive")
	}
	if cfg.ZipfS <= 1 || cfg.ZipfV < 1 {
		return cfg, fmt.Errorf("zipf parameters out of range: s=%v v=%v", cfg.ZipfS, cfg.ZipfV)
	}
	return cfg, nil
}

// anchors are city centres the synthetic explorers wander around.
var anchors = [][2]float64{
	{114.0579, 22.5431},  // Shenzhen
	{18.0686, 59.3293},   // Stockholm
	{-0.1276, 51.5072},   // London
	{-70.6693, -33.4489}, // Santiago
}

// makeArchives encodes count scatter bitmaps. Early archives sit on the
// anchors so a Zipf pick makes them the hot ones.
func makeArchives(count, pixels int, r *rand.Rand) ([][]byte, error) {
	const span = 1024 // pixels, a 16x16 block square
	out := make([][]byte, 0, count)
	for i := range count {
		a := anchors[i%len(anchors)]
		lng := a[0] + (r.Float64()-0.5)*0.5
		lat := a[1] + (r.Float64()-0.5)*0.5
		col, row, err := tiling.LngLatPixel(lng, lat, tiling.Zoom)
		if err != nil {
			return nil, err
		}
		bm := coveragetest.Scatter(r.Uint64(), pixels, col, row, span)
		var buf bytes.Buffer
		if err := importer.WriteSyncArchive(&buf, bm); err != nil {
			return nil, fmt.Errorf("archive %d: %w", i, err)
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

// request result (one sample per request)
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Archive   int
	Bytes     int
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Archives      int       `json:"archives"`
	Pixels        int       `json:"pixels"`
	TargetURL     string    `json:"target"`
	Strategy      string    `json:"strategy"`
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))
	csvPath, jsonPath := prefix+"_samples.csv", prefix+"_summary.json"

	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	sum, err := run(ctx, cfg, httpClient, csvFile)
	if err != nil {
		log.Fatalf("loadgen: %v", err)
	}
	if b, err := json.MarshalIndent(sum, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Clean(jsonPath), b, 0o600)
	}
	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		sum.TotalRequests, sum.SuccessCount, sum.ErrorCount, sum.ThroughputRPS, sum.P50Ms, sum.P95Ms, sum.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

// run drives the workers until ctx ends and writes one CSV row per request.
func run(ctx context.Context, cfg Config, client *http.Client, samplesOut io.Writer) (summary, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	archives, err := makeArchives(cfg.Archives, cfg.Pixels, rand.New(rand.NewSource(seed)))
	if err != nil {
		return summary{}, err
	}
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return summary{}, fmt.Errorf("target: %w", err)
	}
	q := target.Query()
	if cfg.Strategy != "" {
		q.Set("strategy", cfg.Strategy)
	}
	target.RawQuery = q.Encode()

	var lim *rate.Limiter
	if cfg.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}

	samples := make(chan sample, 1024)
	var (
		total, succ, fails int64
		latMs              []float64
		collected          = make(chan error, 1)
	)
	go func() {
		w := csv.NewWriter(samplesOut)
		_ = w.Write([]string{"timestamp", "latency_ms", "status", "error", "archive", "bytes"})
		for s := range samples {
			total++
			ms := float64(s.Latency.Microseconds()) / 1000.0
			if s.ErrorMsg == "" {
				succ++
				latMs = append(latMs, ms)
			} else {
				fails++
			}
			_ = w.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", ms),
				fmt.Sprintf("%d", s.Status),
				s.ErrorMsg,
				fmt.Sprintf("%d", s.Archive),
				fmt.Sprintf("%d", s.Bytes),
			})
		}
		w.Flush()
		collected <- w.Error()
	}()

	start := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d archives=%d pixels=%d",
		target, cfg.Duration, cfg.Concurrency, cfg.Archives, cfg.Pixels)

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, uint64(len(archives)-1))
			for ctx.Err() == nil {
				if lim != nil && lim.Wait(ctx) != nil {
					return
				}
				idx := int(zipf.Uint64())
				s := post(ctx, client, target.String(), archives[idx])
				s.Archive = idx
				if ctx.Err() != nil && s.ErrorMsg != "" {
					return // cut off by the deadline, not a failure
				}
				samples <- s
			}
		}(id)
	}
	wg.Wait()
	close(samples)
	if err := <-collected; err != nil {
		return summary{}, fmt.Errorf("csv: %w", err)
	}

	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(latMs)
	return summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: total,
		SuccessCount:  succ,
		ErrorCount:    fails,
		ThroughputRPS: float64(total) / elapsed,
		P50Ms:         percentile(latMs, 50),
		P95Ms:         percentile(latMs, 95),
		P99Ms:         percentile(latMs, 99),
		Concurrency:   cfg.Concurrency,
		Archives:      cfg.Archives,
		Pixels:        cfg.Pixels,
		TargetURL:     target.String(),
		Strategy:      cfg.Strategy,
	}, nil
}

func post(ctx context.Context, client *http.Client, target string, body []byte) sample {
	s := sample{Timestamp: time.Now(), Bytes: len(body)}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/zip")
	resp, err := client.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = strings.TrimSpace(err.Error())
		return s
	}
	s.Status = resp.StatusCode
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
