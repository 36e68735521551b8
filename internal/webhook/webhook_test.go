package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPNotifierDeliversEvent(t *testing.T) {
	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		received <- e
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewHTTPNotifier(server.URL, time.Second)
	notifier.Notify(context.Background(), Event{Type: "transaction_signed", Signature: "abc123"})

	select {
	case e := <-received:
		require.Equal(t, "transaction_signed", e.Type)
		require.Equal(t, "abc123", e.Signature)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestHTTPNotifierDoesNotPanicOnFailure(t *testing.T) {
	notifier := NewHTTPNotifier("http://127.0.0.1:0", 100*time.Millisecond)
	notifier.Notify(context.Background(), Event{Type: "transaction_rejected"})
}

func TestNoopNotifierDoesNotPanic(t *testing.T) {
	var n Notifier = NoopNotifier{}
	n.Notify(context.Background(), Event{Type: "transaction_signed"})
}
