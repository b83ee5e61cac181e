package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const sessionHeader = "Mcp-Session-Id"

// httpTransport implements streamable HTTP: each JSON-RPC message is POSTed
// to the endpoint URL, and the response body is either plain JSON or a short
// SSE stream carrying the response. The server-assigned session id is echoed
// on every subsequent request.
type httpTransport struct {
	client  *http.Client
	url     string
	headers map[string]string

	mu        sync.Mutex
	sessionID string
	closed    bool
}

func newHTTPTransport(cfg EndpointConfig, client *http.Client) (*httpTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http endpoint requires a url")
	}
	return &httpTransport{
		client:  client,
		url:     cfg.URL,
		headers: cfg.Headers,
	}, nil
}

func (t *httpTransport) Kind() string { return "http" }

func (t *httpTransport) send(ctx context.Context, req rpcRequest) (*http.Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	session := t.sessionID
	t.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		httpReq.Header.Set(sessionHeader, session)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params, result any) error {
	id := uuid.New().String()
	resp, err := t.send(ctx, rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp *rpcResponse
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		rpcResp, err = readSSEResponse(resp.Body, id)
	} else {
		rpcResp, err = readJSONResponse(resp.Body)
	}
	if err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && len(rpcResp.Result) > 0 {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

func readJSONResponse(body io.Reader) (*rpcResponse, error) {
	var resp rpcResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse scans an SSE response body until it finds the message
// answering the given request id.
func readSSEResponse(body io.Reader, id string) (*rpcResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if idEquals(resp.ID, id) {
			return &resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("response stream ended without an answer")
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	resp, err := t.send(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close ends the logical session with a best-effort DELETE.
func (t *httpTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.sessionID
	t.mu.Unlock()

	if session == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, t.url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionHeader, session)
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}
