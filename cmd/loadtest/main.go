// Command loadtest opens many SDK watch streams and, optionally, flips one
// flag through the admin API to measure fan-out latency.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/logger"

	"go.uber.org/zap"
)

var (
	baseURL     = flag.String("url", "http://localhost:8080", "Server base URL")
	sdkKey      = flag.String("key", "fg-loadtest-key", "SDK key")
	adminToken  = flag.String("token", "", "Admin bearer token; toggling is disabled when empty")
	totalVUs    = flag.Int("c", 2000, "Total virtual users")
	rampUp      = flag.Duration("ramp", 60*time.Second, "Ramp up duration")
	featureKey  = flag.String("feature", "loadtest_latency_check", "Flag toggled to measure latency")
	toggleEvery = flag.Duration("toggle", 2*time.Second, "Toggle interval")
)

var (
	activeClients atomic.Int64
	totalConnects atomic.Int64
	connectErrors atomic.Int64
	messagesRx    atomic.Int64
	latencySum    atomic.Int64 // milliseconds
	latencyCount  atomic.Int64

	// unix millis of the last toggle sent
	lastToggle atomic.Int64
)

func main() {
	flag.Parse()
	logger.InitLogger("dev")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = *totalVUs
	transport.MaxConnsPerHost = *totalVUs
	client := &http.Client{Transport: transport}

	logger.Info("starting load test",
		zap.String("url", *baseURL),
		zap.Int("vus", *totalVUs),
		zap.Duration("ramp", *rampUp))

	go report(ctx)
	if *adminToken != "" {
		go toggle(ctx, client)
	}

	var wg sync.WaitGroup
	interval := *rampUp / time.Duration(max(*totalVUs, 1))
	for i := 0; i < *totalVUs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, client, id)
		}(i)
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}

	logger.Info("all virtual users launched")
	wg.Wait()
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latSum := latencySum.Swap(0)
			latCnt := latencyCount.Swap(0)
			avg := float64(0)
			if latCnt > 0 {
				avg = float64(latSum) / float64(latCnt)
			}
			fmt.Printf("[%s] active: %d | total: %d | errors: %d | msgs/s: %d | avg latency: %.2f ms\n",
				time.Now().Format("15:04:05"), activeClients.Load(), totalConnects.Load(),
				connectErrors.Load(), messagesRx.Swap(0), avg)
		}
	}
}

func toggle(ctx context.Context, client *http.Client) {
	ticker := time.NewTicker(*toggleEvery)
	defer ticker.Stop()
	enabled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		enabled = !enabled
		body, _ := json.Marshal(map[string]bool{"is_enabled": enabled})
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			*baseURL+"/v1/admin/features/"+*featureKey, bytes.NewReader(body))
		if err != nil {
			logger.Error("build toggle request", zap.Error(err))
			return
		}
		req.Header.Set("Authorization", "Bearer "+*adminToken)
		req.Header.Set("Content-Type", "application/json")

		lastToggle.Store(time.Now().UnixMilli())
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("toggle failed", zap.Error(err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			logger.Warn("toggle rejected", zap.Int("status", resp.StatusCode))
		}
	}
}

func runClient(ctx context.Context, client *http.Client, id int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *baseURL+"/v1/stream/watch", nil)
	if err != nil {
		logger.Error("build watch request", zap.Int("vu", id), zap.Error(err))
		return
	}
	req.Header.Set("X-Api-Key", *sdkKey)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if connectErrors.Add(1) == 1 {
			logger.Warn("connect failed", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if connectErrors.Add(1) == 1 {
			logger.Warn("unexpected status", zap.Int("status", resp.StatusCode))
		}
		return
	}

	activeClients.Add(1)
	totalConnects.Add(1)
	defer activeClients.Add(-1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var msg v1.Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &msg); err != nil {
			continue
		}
		messagesRx.Add(1)

		if msg.Key == *featureKey {
			latency := time.Now().UnixMilli() - lastToggle.Load()
			// skip samples distorted by a toggle landing mid-flight
			if latency >= 0 && latency < (*toggleEvery).Milliseconds() {
				latencySum.Add(latency)
				latencyCount.Add(1)
			}
		}
	}
}
