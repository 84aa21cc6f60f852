package protocol

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Tag is a single name/value pair attached to a message. The whole wire
// protocol is expressed through tags; Data carries larger JSON payloads.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is the envelope exchanged between the market process and its
// collaborators (wallets, the controller, the price oracle and peer markets).
// Quantities travel as decimal-string encoded big integers and timestamps are
// unix milliseconds.
type Message struct {
	Target    string `json:"Target"`
	From      string `json:"From"`
	Owner     string `json:"Owner,omitempty"`
	Timestamp int64  `json:"Timestamp"`
	Data      string `json:"Data,omitempty"`
	Tags      []Tag  `json:"Tags"`
}

// Tag names shared across handlers.
const (
	TagAction    = "Action"
	TagError     = "Error"
	TagQuantity  = "Quantity"
	TagRecipient = "Recipient"
	TagSender    = "Sender"
	TagReference = "Reference"
	TagXAction   = "X-Action"
	TagXRef      = "X-Reference"
)

// Tag returns the value of the named tag, or the empty string when the tag is
// absent.
func (m Message) Tag(name string) string {
	for _, t := range m.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// HasTag reports whether the named tag is present, even with an empty value.
func (m Message) HasTag(name string) bool {
	for _, t := range m.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Action returns the value of the Action tag.
func (m Message) Action() string { return m.Tag(TagAction) }

// Reference returns the correlation reference echoed back by collaborators.
func (m Message) Reference() string { return m.Tag(TagXRef) }

// ForwardedTags returns every X-* tag except the protocol-owned ones. Transfer
// legs carry these through to the debit and credit notices unchanged.
func (m Message) ForwardedTags() []Tag {
	owned := map[string]bool{TagXAction: true, TagXRef: true}
	var out []Tag
	for _, t := range m.Tags {
		if strings.HasPrefix(t.Name, "X-") && !owned[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// New builds an outbound message addressed to target carrying the given tags.
func New(target string, tags ...Tag) Message {
	return Message{Target: target, Tags: tags}
}

// WithTag appends a tag and returns the message for chaining.
func (m Message) WithTag(name, value string) Message {
	m.Tags = append(m.Tags, Tag{Name: name, Value: value})
	return m
}

// WithTags appends a tag slice and returns the message for chaining.
func (m Message) WithTags(tags []Tag) Message {
	m.Tags = append(m.Tags, tags...)
	return m
}

// WithData sets the Data payload and returns the message for chaining.
func (m Message) WithData(data string) Message {
	m.Data = data
	return m
}

// Encode renders the message as its JSON wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a JSON wire message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// ParseQuantity parses a decimal-string encoded token quantity. Quantities on
// the wire must be strictly positive integers with no sign or fraction.
func ParseQuantity(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("quantity missing")
	}
	qty, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("quantity %q is not an integer", trimmed)
	}
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	return qty, nil
}

// addressLength is the length of a process or wallet identifier on the wire.
const addressLength = 43

// ValidAddress reports whether value is a well-formed process or wallet
// address: 43 base64url characters.
func ValidAddress(value string) bool {
	if len(value) != addressLength {
		return false
	}
	for _, c := range value {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
