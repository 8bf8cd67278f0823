// Package client keeps the resolved features of one subject in memory and
// refreshes them whenever the server reports a relevant change.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrNotToggleable = errors.New("feature is not toggleable")
	ErrUnauthorized  = errors.New("unauthorized")
)

// heartbeatTimeout must exceed the server heartbeat interval.
const heartbeatTimeout = 45 * time.Second

type Client struct {
	addr       string
	token      string
	httpClient *http.Client

	mu       sync.RWMutex
	features map[string]v1.ResolvedFeature
	etag     string

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a client acting with the subject token.
func New(addr, token string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 0},
		features:   make(map[string]v1.ResolvedFeature),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start loads the resolved set and keeps it current in the background.
func (c *Client) Start() error {
	if err := c.Refresh(c.ctx); err != nil {
		return err
	}
	go c.runWatchLoop()
	return nil
}

func (c *Client) Close() {
	c.cancel()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Refresh reloads the resolved set. An unchanged set costs a 304.
func (c *Client) Refresh(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/features/resolved", nil)
	if err != nil {
		return err
	}
	c.mu.RLock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to fetch resolved features", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("fetch resolved features: unexpected status %d", resp.StatusCode)
	}

	var res struct {
		Data []v1.ResolvedFeature `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		logger.Error("failed to decode resolved features", zap.Error(err))
		return err
	}

	features := make(map[string]v1.ResolvedFeature, len(res.Data))
	for _, f := range res.Data {
		features[f.Key] = f
	}
	c.mu.Lock()
	c.features = features
	c.etag = resp.Header.Get("ETag")
	c.mu.Unlock()
	return nil
}

// SetPreference opts the subject in or out of an optional feature and
// refreshes the local set.
func (c *Client) SetPreference(ctx context.Context, key string, enabled bool) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/features/"+key+"/preference", map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return ErrNotToggleable
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("set preference: unexpected status %d", resp.StatusCode)
	}
	return c.Refresh(ctx)
}

// IsEnabled is false for unknown and hidden features.
func (c *Client) IsEnabled(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.features[key].Enabled
}

func (c *Client) Feature(key string) (v1.ResolvedFeature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.features[key]
	return f, ok
}

// Features returns a copy of the resolved set.
func (c *Client) Features() map[string]v1.ResolvedFeature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]v1.ResolvedFeature, len(c.features))
	for k, v := range c.features {
		out[k] = v
	}
	return out
}

func (c *Client) runWatchLoop() {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		reqCtx, reqCancel := context.WithCancel(c.ctx)
		req, err := c.newRequest(reqCtx, http.MethodGet, "/v1/features/stream", nil)
		if err != nil {
			reqCancel()
			logger.Error("failed to build stream request", zap.Error(err))
			return
		}
		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if err != nil {
			reqCancel()
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			logger.Warn("SSE disconnected", zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff + jitter):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		// changes may have happened while disconnected
		if err := c.Refresh(reqCtx); err != nil {
			logger.Warn("failed to refresh after reconnect", zap.Error(err))
		}

		var lastActivity atomic.Int64
		lastActivity.Store(time.Now().Unix())
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-reqCtx.Done():
					return
				case <-ticker.C:
					if time.Since(time.Unix(lastActivity.Load(), 0)) > heartbeatTimeout {
						logger.Warn("sse heartbeat timeout, reconnecting")
						reqCancel()
						return
					}
				}
			}
		}()

		backoff = time.Second
		c.consume(resp, &lastActivity)
		reqCancel()
		resp.Body.Close()
	}
}

// consume reads events until the stream ends.
func (c *Client) consume(resp *http.Response, lastActivity *atomic.Int64) {
	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data bytes.Buffer

	for scanner.Scan() {
		lastActivity.Store(time.Now().Unix())
		line := scanner.Text()
		if line == "" {
			if eventType == "changed" {
				logger.Debug("features changed", zap.ByteString("event", data.Bytes()))
				if err := c.Refresh(c.ctx); err != nil {
					logger.Error("failed to refresh features", zap.Error(err))
				}
			}
			eventType = ""
			data.Reset()
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
