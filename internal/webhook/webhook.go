// Package webhook notifies an operator-configured URL about relayer
// events (signed, broadcast and rejected transactions), the
// supplemented feature named in SPEC_FULL.md's component L, grounded
// in original_source's webhook module and built with the teacher's
// resty client idiom (service/svmbase/svm.go's *resty.Client field
// and .R().SetContext().SetBody().Post() call shape).
package webhook

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-resty/resty/v2"
)

// Event is the payload delivered to the configured webhook URL.
type Event struct {
	Type          string `json:"type"` // "transaction_signed" | "transaction_broadcast" | "transaction_rejected"
	Signature     string `json:"signature,omitempty"`
	FeePayer      string `json:"fee_payer,omitempty"`
	Reason        string `json:"reason,omitempty"`
	EstimatedFee  uint64 `json:"estimated_fee_lamports,omitempty"`
}

// Notifier delivers Events. Delivery failures are logged, never
// returned to the caller: a webhook outage must not block relaying.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NoopNotifier is the default when webhooks are disabled in config.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) {}

// HTTPNotifier posts events to a single configured URL.
type HTTPNotifier struct {
	client *resty.Client
	url    string
}

func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	client := resty.New().SetTimeout(timeout)
	return &HTTPNotifier{client: client, url: url}
}

func (n *HTTPNotifier) Notify(ctx context.Context, event Event) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		log.Warn("webhook delivery failed", "type", event.Type, "err", err)
		return
	}
	if resp.IsError() {
		log.Warn("webhook delivery returned error status", "type", event.Type, "status", resp.StatusCode())
	}
}

var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*HTTPNotifier)(nil)
)
