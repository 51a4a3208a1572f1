package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/version"
)

// DataPrefix marks a stream line that carries one chunk of assistant text.
const DataPrefix = "data:"

const (
	maxLineSize     = 1 << 20
	maxErrorBody    = 4 << 10
	maxDispatchBody = 1 << 20
)

// NewPooledHTTPClient builds a keep-alive client for runtime calls. There is
// no overall client timeout: streams are bounded by their context and by the
// idle watchdog instead.
func NewPooledHTTPClient(connectTimeout, headerTimeout time.Duration, maxIdle int) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}

// Options configures an HTTPClient.
type Options struct {
	BaseURL      string        // e.g. "http://localhost:8000"
	ReadTimeout  time.Duration // max silence between stream lines
	AdminTimeout time.Duration // bound on each MCP management call
}

// HTTPClient is the Client for a runtime reachable over HTTP.
type HTTPClient struct {
	baseURL      string
	readTimeout  time.Duration
	adminTimeout time.Duration
	http         *http.Client
	log          *logging.Logger
}

// NewHTTPClient creates a runtime client that issues requests through hc.
func NewHTTPClient(opts Options, hc *http.Client, log *logging.Logger) *HTTPClient {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.AdminTimeout <= 0 {
		opts.AdminTimeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		readTimeout:  opts.ReadTimeout,
		adminTimeout: opts.AdminTimeout,
		http:         hc,
		log:          log.Sub("runtime"),
	}
}

// Stream posts a streaming completion to /chat/send.
func (c *HTTPClient) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// reqCtx lets the idle watchdog abort the body read without touching ctx.
	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/send", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, upstreamErr("stream request failed", err)
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	c.log.Debug().Str("model", req.Model).Msg("runtime stream opened")

	events := make(chan StreamEvent)
	go c.readStream(ctx, cancel, resp.Body, events)
	return events, nil
}

// readStream forwards data lines until EOF, failure, idle timeout or ctx end.
// Sends are gated on ctx so an abandoned reader never leaks this goroutine.
func (c *HTTPClient) readStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer cancel()
	defer body.Close()

	var idle atomic.Bool
	watchdog := time.AfterFunc(c.readTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		chunk, ok := strings.CutPrefix(scanner.Text(), DataPrefix)
		if !ok {
			watchdog.Reset(c.readTimeout)
			continue
		}
		watchdog.Stop()
		if !send(StreamEvent{Type: EventChunk, Content: chunk}) {
			return
		}
		watchdog.Reset(c.readTimeout)
	}

	switch err := scanner.Err(); {
	case idle.Load():
		c.log.Warn().Dur("timeout", c.readTimeout).Msg("runtime stream idle, aborting read")
		send(StreamEvent{Type: EventError, Err: upstreamErr("reading stream", ErrReadTimeout)})
	case ctx.Err() != nil:
		// Caller is gone; nobody is listening.
	case err != nil:
		send(StreamEvent{Type: EventError, Err: upstreamErr("reading stream", err)})
	default:
		send(StreamEvent{Type: EventDone})
	}
}

// Dispatch posts an agent task to /agent/execute.
func (c *HTTPClient) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	if req.Tools == nil {
		req.Tools = []string{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, upstreamErr("dispatch request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDispatchBody))
	if err != nil {
		return nil, upstreamErr("reading dispatch response", err)
	}
	if resp.StatusCode/100 != 2 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out DispatchResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, upstreamErr("decoding dispatch response", err)
		}
	}

	c.log.Debug().
		Str("status", out.Status).
		Dur("duration", time.Since(start)).
		Msg("runtime dispatch complete")
	return &out, nil
}
