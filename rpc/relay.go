package rpc

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lomarket/protocol"
)

// Relay delivers outbound messages to a remote HTTP endpoint as JSON.
type Relay struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewRelay builds a sink posting to the given URL. An empty URL yields a
// relay that logs and drops every message, useful for dry runs.
func NewRelay(url string, log *slog.Logger) *Relay {
	return &Relay{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Deliver posts the message to the relay endpoint. Delivery is best
// effort: failures are logged, not retried.
func (r *Relay) Deliver(msg protocol.Message) {
	if r.url == "" {
		r.log.Debug("relay disabled, dropping message", "target", msg.Target, "action", msg.Action())
		return
	}
	body, err := msg.Encode()
	if err != nil {
		r.log.Error("encode outbound message", "error", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.log.Error("build relay request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Error("relay delivery failed", "target", msg.Target, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.log.Error("relay rejected message", "target", msg.Target, "status", fmt.Sprintf("%d", resp.StatusCode))
	}
}
