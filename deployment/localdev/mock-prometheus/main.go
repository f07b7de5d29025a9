// Command mock-prometheus answers node_exporter instant queries from the
// synthetic generator so the prometheus monitor source can be exercised
// without a real Prometheus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/monitor"
)

type vectorResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]any            `json:"value"`
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string         `json:"resultType"`
		Result     []vectorResult `json:"result"`
	} `json:"data"`
}

// feed advances the generator on every CPU query, which the source issues
// first for each sample.
type feed struct {
	mu      sync.Mutex
	source  *monitor.SyntheticSource
	current models.RawSample
}

func (f *feed) value(query string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(query, "node_cpu_seconds_total") || f.current.Timestamp.IsZero() {
		sample, err := f.source.Sample(context.Background())
		if err != nil {
			return 0, false
		}
		f.current = sample
	}
	s := f.current
	switch {
	case strings.Contains(query, "node_cpu_seconds_total"):
		return s.CPUPercent, true
	case strings.Contains(query, "node_cpu_scaling_frequency_hertz"):
		return s.CPUFrequencyMHz, true
	case strings.Contains(query, "node_memory_MemTotal_bytes"):
		return float64(s.MemoryTotalBytes), true
	case strings.Contains(query, "node_memory_MemAvailable_bytes"):
		return float64(s.MemoryTotalBytes - s.MemoryUsedBytes), true
	case strings.Contains(query, "node_filesystem_size_bytes"):
		return float64(s.DiskTotalBytes), true
	case strings.Contains(query, "node_filesystem_avail_bytes"):
		return float64(s.DiskTotalBytes - s.DiskUsedBytes), true
	case strings.Contains(query, "node_network_transmit_bytes_total"):
		return float64(s.NetBytesSent), true
	case strings.Contains(query, "node_network_receive_bytes_total"):
		return float64(s.NetBytesRecv), true
	}
	return 0, false
}

func main() {
	addr := flag.String("addr", ":9090", "Listen address")
	scenario := flag.String("scenario", "normal", "Synthetic scenario to serve")
	seed := flag.Int64("seed", 1, "Generator seed")
	anomalyAt := flag.Int("anomaly-start", 60, "Sample index where the anomaly begins")
	flag.Parse()

	sc, err := monitor.ParseScenario(*scenario)
	if err != nil {
		log.Fatal(err)
	}
	cfg := monitor.DefaultSyntheticConfig(sc, *seed)
	cfg.Start = time.Now().UTC()
	cfg.AnomalyStart = *anomalyAt
	cfg.Length = *anomalyAt * 2
	source, err := monitor.NewSyntheticSource(cfg)
	if err != nil {
		log.Fatal(err)
	}
	f := &feed{source: source}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := queryResponse{Status: "success"}
		resp.Data.ResultType = "vector"
		resp.Data.Result = []vectorResult{}
		if v, ok := f.value(r.Form.Get("query")); ok {
			resp.Data.Result = append(resp.Data.Result, vectorResult{
				Metric: map[string]string{"instance": "mock:9100"},
				Value:  [2]any{float64(time.Now().Unix()), strconv.FormatFloat(v, 'f', -1, 64)},
			})
		}
		writeJSON(w, resp)
	})

	logger := log.New(log.Writer(), "prometheus-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s (scenario %s)", *addr, sc)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
