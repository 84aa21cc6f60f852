// Package oracle issues price requests to the external oracle process and
// caches the replies. Prices are decimal values paired with the millisecond
// timestamp the oracle observed them at; entries are refreshed when a newer
// value arrives and are never actively evicted, only ignored once stale
// relative to a given operation.
package oracle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"lomarket/protocol"
)

// ActionRequestData is the oracle's price request action.
const ActionRequestData = "v2.Request-Latest-Data"

// Price is a cached quote for one ticker.
type Price struct {
	// Value is the reported price.
	Value decimal.Decimal `json:"value"`
	// Timestamp is the oracle's observation time in unix ms.
	Timestamp int64 `json:"timestamp"`
}

// Fresh reports whether the price was observed at or after notBefore.
func (p Price) Fresh(notBefore int64) bool {
	return p.Timestamp >= notBefore
}

// Cache holds the latest known price per ticker.
type Cache struct {
	entries map[string]Price
}

// NewCache returns an empty price cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Price)}
}

// Put stores the price unless an equal or newer observation is already
// cached.
func (c *Cache) Put(ticker string, price Price) {
	if existing, ok := c.entries[ticker]; ok && existing.Timestamp >= price.Timestamp {
		return
	}
	c.entries[ticker] = price
}

// Get returns the cached price for ticker regardless of age.
func (c *Cache) Get(ticker string) (Price, bool) {
	p, ok := c.entries[ticker]
	return p, ok
}

// FreshPrice returns the cached price for ticker only when it was observed at
// or after notBefore.
func (c *Cache) FreshPrice(ticker string, notBefore int64) (Price, bool) {
	p, ok := c.entries[ticker]
	if !ok || !p.Fresh(notBefore) {
		return Price{}, false
	}
	return p, true
}

// Missing filters tickers down to the ones with no fresh cache entry, sorted
// for deterministic request payloads.
func (c *Cache) Missing(tickers []string, notBefore int64) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ticker := range tickers {
		if seen[ticker] {
			continue
		}
		seen[ticker] = true
		if _, ok := c.FreshPrice(ticker, notBefore); !ok {
			out = append(out, ticker)
		}
	}
	sort.Strings(out)
	return out
}

// Request builds the batched price request for the given ticker set. The
// oracle echoes reference as X-Reference on its reply.
func Request(oracleAddr, reference string, tickers []string) (protocol.Message, error) {
	payload, err := json.Marshal(tickers)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("encode tickers: %w", err)
	}
	return protocol.New(oracleAddr,
		protocol.Tag{Name: protocol.TagAction, Value: ActionRequestData},
		protocol.Tag{Name: "Tickers", Value: string(payload)},
		protocol.Tag{Name: protocol.TagReference, Value: reference},
	), nil
}

// replyEntry is the oracle's per-ticker payload: v is the price, t the
// observation timestamp in ms, a the upstream feed address.
type replyEntry struct {
	Value     decimal.Decimal `json:"v"`
	Timestamp int64           `json:"t"`
	Address   string          `json:"a"`
}

// ParseReply decodes the oracle reply payload, a JSON map of ticker to
// {v, t, a}.
func ParseReply(data string) (map[string]Price, error) {
	var entries map[string]replyEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("decode oracle data: %w", err)
	}
	out := make(map[string]Price, len(entries))
	for ticker, entry := range entries {
		out[ticker] = Price{Value: entry.Value, Timestamp: entry.Timestamp}
	}
	return out, nil
}
