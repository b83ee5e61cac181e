package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sseTransport implements the SSE transport: one long-lived GET stream
// carries server events, and requests are POSTed to the URL announced by the
// server's initial "endpoint" event. Responses come back on the event stream
// and are correlated by request id.
type sseTransport struct {
	client      *http.Client
	headers     map[string]string
	postURL     string
	readTimeout time.Duration

	cancel context.CancelFunc
	body   io.ReadCloser

	mu       sync.Mutex
	pending  map[string]chan *rpcResponse
	lastRead time.Time
	closed   bool
	failErr  error
}

func newSSETransport(ctx context.Context, cfg EndpointConfig, client *http.Client) (*sseTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse endpoint requires a url")
	}

	// The event stream outlives the connect deadline; it gets its own
	// lifetime, torn down by Close.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse stream returned status %d", resp.StatusCode)
	}

	t := &sseTransport{
		client:      client,
		headers:     cfg.Headers,
		readTimeout: cfg.SSEReadTimeout,
		cancel:      cancel,
		body:        resp.Body,
		pending:     make(map[string]chan *rpcResponse),
		lastRead:    time.Now(),
	}

	endpointCh := make(chan string, 1)
	go t.readLoop(cfg.URL, endpointCh)
	if t.readTimeout > 0 {
		go t.watchdog(streamCtx)
	}

	// The server must announce the POST-back endpoint before we can speak.
	select {
	case postURL, ok := <-endpointCh:
		if !ok {
			t.Close()
			return nil, fmt.Errorf("sse stream closed before endpoint event")
		}
		t.postURL = postURL
	case <-ctx.Done():
		t.Close()
		return nil, fmt.Errorf("waiting for sse endpoint event: %w", ctx.Err())
	}
	return t, nil
}

// readLoop parses the SSE stream: "endpoint" events announce the POST URL,
// "message" events carry JSON-RPC responses.
func (t *sseTransport) readLoop(baseURL string, endpointCh chan<- string) {
	defer close(endpointCh)
	defer t.failPending(fmt.Errorf("sse stream closed"))

	scanner := bufio.NewScanner(t.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	event := "message"
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		t.touch()

		switch {
		case line == "":
			if data.Len() > 0 {
				t.dispatch(event, data.String(), baseURL, endpointCh)
			}
			event = "message"
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if data.Len() > 0 {
		t.dispatch(event, data.String(), baseURL, endpointCh)
	}
}

func (t *sseTransport) dispatch(event, data, baseURL string, endpointCh chan<- string) {
	switch event {
	case "endpoint":
		if resolved, err := resolveEndpointURL(baseURL, data); err == nil {
			select {
			case endpointCh <- resolved:
			default:
			}
		}
	case "message":
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil || len(resp.ID) == 0 {
			return
		}
		t.mu.Lock()
		for id, ch := range t.pending {
			if idEquals(resp.ID, id) {
				delete(t.pending, id)
				ch <- &resp
				break
			}
		}
		t.mu.Unlock()
	}
}

// resolveEndpointURL resolves a possibly relative POST path against the
// stream URL.
func resolveEndpointURL(baseURL, endpoint string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (t *sseTransport) touch() {
	t.mu.Lock()
	t.lastRead = time.Now()
	t.mu.Unlock()
}

// watchdog enforces sse_read_timeout as a bound on the gap between events.
func (t *sseTransport) watchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := time.Since(t.lastRead) > t.readTimeout
			t.mu.Unlock()
			if stale {
				t.Close()
				return
			}
		}
	}
}

// failPending wakes every waiter with the first recorded failure reason.
func (t *sseTransport) failPending(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr == nil {
		t.failErr = err
	}
	for id, ch := range t.pending {
		delete(t.pending, id)
		close(ch)
	}
}

func (t *sseTransport) Kind() string { return "sse" }

func (t *sseTransport) post(ctx context.Context, req rpcRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) Call(ctx context.Context, method string, params, result any) error {
	id := uuid.New().String()
	ch := make(chan *rpcResponse, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	t.pending[id] = ch
	t.mu.Unlock()

	err := t.post(ctx, rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			t.mu.Lock()
			reason := t.failErr
			t.mu.Unlock()
			if reason != nil {
				return fmt.Errorf("connection lost awaiting response: %w", reason)
			}
			return fmt.Errorf("connection lost awaiting response")
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return ctx.Err()
	}
}

func (t *sseTransport) Notify(ctx context.Context, method string, params any) error {
	return t.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.body.Close()
	t.failPending(fmt.Errorf("transport closed"))
	return nil
}
