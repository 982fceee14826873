// Measure network latency to the Binance futures REST and WebSocket APIs.
//
// Measures a cold-start request (DNS + TCP + TLS + HTTP), warm keep-alive
// round trips through the trading client, the local clock offset and,
// optionally, WebSocket ping/pong latency on the market stream endpoint.
//
// Usage:
//
//	go run ./ping_services                  # default: 20 requests
//	go run ./ping_services -n 50            # 50 requests
//	go run ./ping_services --ws             # also test WebSocket latency
//	go run ./ping_services --base-url https://fapi.binance.com
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/futures-trading/internal/adapters/binance_auth"
	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/config"
	"github.com/charleschow/futures-trading/internal/core/execution"
	"github.com/charleschow/futures-trading/internal/telemetry"
)

const (
	pingPath    = "/fapi/v1/ping"
	httpTimeout = 10 * time.Second
	wsTimeout   = 5 * time.Second
)

func main() {
	n := flag.Int("n", 20, "Number of requests per endpoint")
	ws := flag.Bool("ws", false, "Also measure WebSocket ping/pong latency")
	baseURL := flag.String("base-url", "", "REST base URL (default from BINANCE_BASE_URL or testnet)")
	wsURL := flag.String("ws-url", "", "WebSocket URL (default from BINANCE_WS_URL)")
	envFile := flag.String("env-file", "", "env file to load instead of ./.env")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{EnvFile: *envFile, BaseURL: *baseURL, LogLevel: "warn"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	if *wsURL != "" {
		cfg.WSURL = *wsURL
	}

	pingREST(cfg, *n)
	if *ws {
		pingWS(cfg.WSURL, *n)
	}
	fmt.Println()
}

func pingREST(cfg *config.Config, n int) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	fmt.Printf("  BINANCE FUTURES REST — %s\n", cfg.BaseURL)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	fmt.Println("\n  Cold-start request (DNS + TLS + HTTP):")
	if ms, code, err := measureHTTP(cfg.BaseURL + pingPath); err != nil {
		fmt.Printf("    FAILED — %v\n", err)
	} else {
		fmt.Printf("    %.1f ms  (HTTP %d)\n", ms, code)
	}

	// Warm requests go through the trading client so limiter, breaker and
	// retry overhead are included.
	client, err := binance_http.NewClient(cfg.BaseURL, "", cfg.ClientOptions())
	if err != nil {
		fmt.Printf("  [!] Client setup failed: %v\n", err)
		return
	}
	svc := execution.NewService(client, binance_auth.NewSigner(""))
	ctx := context.Background()

	fmt.Printf("\n  Warm ping latency (%d requests, keep-alive):\n", n)
	if err := svc.Ping(ctx); err != nil {
		fmt.Printf("  [!] Warm-up request failed: %v\n", err)
		return
	}
	latencies := make([]float64, 0, n)
	pad := len(fmt.Sprintf("%d", n))
	for i := 1; i <= n; i++ {
		start := time.Now()
		if err := svc.Ping(ctx); err != nil {
			fmt.Printf("  [%*d/%d]  FAILED — %v\n", pad, i, n, err)
			continue
		}
		ms := float64(time.Since(start).Microseconds()) / 1000
		latencies = append(latencies, ms)
		fmt.Printf("  [%*d/%d]  %7.1f ms\n", pad, i, n, ms)
	}
	printStats(latencies, "REST ping")

	clock := binance_auth.NewClock(time.Now)
	if offset, err := svc.SyncClock(ctx, clock); err != nil {
		fmt.Printf("\n  [!] Server time failed: %v\n", err)
	} else {
		fmt.Printf("\n  Clock offset (server - local): %s\n", offset.Round(time.Millisecond))
	}
	fmt.Printf("  Client tracker: p50=%s p99=%s retries=%d\n",
		telemetry.Metrics.RequestLatency.P50(), telemetry.Metrics.RequestLatency.P99(),
		telemetry.Metrics.RequestRetries.Value())
}

func pingWS(wsURL string, n int) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	fmt.Printf("  BINANCE FUTURES WEBSOCKET — %s\n", wsURL)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	fmt.Printf("\n  WebSocket ping/pong latency (%d pings):\n", n)
	latencies := measureWSLatency(wsURL, n)
	if len(latencies) == 0 {
		return
	}
	pad := len(fmt.Sprintf("%d", n))
	for i, ms := range latencies {
		fmt.Printf("  [%*d/%d]  %7.1f ms  (WS ping/pong)\n", pad, i+1, n, ms)
	}
	printStats(latencies, "WebSocket")
}

func measureHTTP(url string) (ms float64, statusCode int, err error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	c := &http.Client{Timeout: httpTimeout}
	start := time.Now()
	resp, err := c.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return float64(elapsed.Microseconds()) / 1000, resp.StatusCode, nil
}

// measureWSLatency dials the public stream endpoint, which needs no
// credentials, and times n ping/pong control frames.
func measureWSLatency(wsURL string, n int) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Printf("  [!] WebSocket dial failed: %v\n", err)
		return nil
	}
	defer conn.Close()

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latencies := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsTimeout)); err != nil {
			fmt.Printf("  [!] WS ping failed: %v\n", err)
			break
		}
		select {
		case <-pongCh:
			latencies = append(latencies, float64(time.Since(start).Microseconds())/1000)
		case <-time.After(wsTimeout):
			fmt.Printf("  [!] WS pong timeout\n")
			return latencies
		}
	}
	return latencies
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)

	pct := func(p float64) float64 {
		idx := int(float64(len(sorted)) * p)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	fmt.Printf("\n  --- %s Stats (%d requests) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  p50:    %7.1f ms\n", pct(0.50))
	fmt.Printf("  Stdev:  %7.1f ms\n", math.Sqrt(variance))
	fmt.Printf("  p95:    %7.1f ms\n", pct(0.95))
	fmt.Printf("  p99:    %7.1f ms\n", pct(0.99))
}
