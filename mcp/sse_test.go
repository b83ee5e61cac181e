package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseTestServer answers JSON-RPC calls over the SSE transport shape: an
// event stream announcing a POST endpoint, responses delivered as stream
// events.
func sseTestServer(t *testing.T, handle func(req rpcRequest) *rpcResponse) *httptest.Server {
	t.Helper()
	messages := make(chan string, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /rpc\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case msg := <-messages:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusAccepted)
		if req.ID == "" {
			return // notification
		}
		if resp := handle(req); resp != nil {
			raw, err := json.Marshal(resp)
			require.NoError(t, err)
			messages <- string(raw)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func rpcResult(id string, result any) *rpcResponse {
	raw, _ := json.Marshal(result)
	idRaw, _ := json.Marshal(id)
	return &rpcResponse{JSONRPC: "2.0", ID: idRaw, Result: raw}
}

func TestSSETransportCall(t *testing.T) {
	srv := sseTestServer(t, func(req rpcRequest) *rpcResponse {
		assert.Equal(t, methodListTools, req.Method)
		return rpcResult(req.ID, listToolsResult{Tools: []toolInfo{{Name: "remote"}}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := newSSETransport(ctx, EndpointConfig{URL: srv.URL + "/events"}, srv.Client())
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, "sse", tr.Kind())

	var result listToolsResult
	require.NoError(t, tr.Call(ctx, methodListTools, map[string]any{}, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "remote", result.Tools[0].Name)
}

func TestSSETransportRPCError(t *testing.T) {
	srv := sseTestServer(t, func(req rpcRequest) *rpcResponse {
		idRaw, _ := json.Marshal(req.ID)
		return &rpcResponse{JSONRPC: "2.0", ID: idRaw, Error: &rpcError{Code: -32601, Message: "method not found"}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := newSSETransport(ctx, EndpointConfig{URL: srv.URL + "/events"}, srv.Client())
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Call(ctx, "bogus/method", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestSSETransportConnectTimeoutWithoutEndpointEvent(t *testing.T) {
	// Server accepts the stream but never announces an endpoint.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := newSSETransport(ctx, EndpointConfig{URL: srv.URL}, srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint event")
}

func TestSSETransportStreamLossReportsReason(t *testing.T) {
	// The server accepts the POST but never answers; the stream then dies
	// while the call is still waiting.
	srv := sseTestServer(t, func(req rpcRequest) *rpcResponse { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := newSSETransport(ctx, EndpointConfig{URL: srv.URL + "/events"}, srv.Client())
	require.NoError(t, err)
	defer tr.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Call(ctx, methodListTools, nil, nil)
	}()

	// Let the POST land before cutting the stream.
	time.Sleep(100 * time.Millisecond)
	srv.CloseClientConnections()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection lost awaiting response")
		assert.Contains(t, err.Error(), "sse stream closed")
	case <-time.After(5 * time.Second):
		t.Fatal("call never returned after stream loss")
	}
}

func TestSSETransportCloseIdempotent(t *testing.T) {
	srv := sseTestServer(t, func(req rpcRequest) *rpcResponse { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := newSSETransport(ctx, EndpointConfig{URL: srv.URL + "/events"}, srv.Client())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	err = tr.Call(ctx, methodListTools, nil, nil)
	require.Error(t, err)
}
