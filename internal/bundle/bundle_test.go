package bundle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitoSubmitterReturnsBundleID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sendBundle", req.Method)
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Result: "bundle-123"})
	}))
	defer server.Close()

	s := NewJitoSubmitter(server.URL, time.Second)
	id, err := s.Submit(context.Background(), []string{"base58tx"})
	require.NoError(t, err)
	require.Equal(t, "bundle-123", id)
}

func TestJitoSubmitterPropagatesRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Error: &struct {
			Message string `json:"message"`
		}{Message: "bundle too large"}})
	}))
	defer server.Close()

	s := NewJitoSubmitter(server.URL, time.Second)
	_, err := s.Submit(context.Background(), []string{"base58tx"})
	require.Error(t, err)
}

func TestNoopSubmitterAlwaysErrors(t *testing.T) {
	var s Submitter = NoopSubmitter{}
	_, err := s.Submit(context.Background(), nil)
	require.Error(t, err)
	_, err = s.Status(context.Background(), "x")
	require.Error(t, err)
}
