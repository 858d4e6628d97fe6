package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message type tags.
const (
	TypeHeartbeat           = "heartbeat"
	TypeHighRiskTransaction = "high_risk_transaction"
)

// ErrMissingType is returned when an inbound payload has no type tag.
var ErrMissingType = errors.New("message has no type")

// InboundMessage is a decoded unit of data received on the push connection.
type InboundMessage struct {
	Type       string          // Discriminant from the "type" field
	Payload    json.RawMessage // Full raw object, including the type field
	ReceivedAt time.Time       // Local receive time
}

// envelope is used for type extraction.
type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses raw bytes into an InboundMessage. Payloads that are
// not JSON objects or carry no type tag are rejected.
func DecodeInbound(data []byte, receivedAt time.Time) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return InboundMessage{}, ErrMissingType
	}

	payload := make(json.RawMessage, len(data))
	copy(payload, data)

	return InboundMessage{
		Type:       env.Type,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}, nil
}

// OutboundMessage is a message sent by the client.
type OutboundMessage struct {
	Type string `json:"type"`
}

// Heartbeat returns the keep-alive message sent while the connection is open.
func Heartbeat() OutboundMessage {
	return OutboundMessage{Type: TypeHeartbeat}
}

// LiveEvent is a high-priority notification kept in the live event buffer.
type LiveEvent struct {
	ID         int64     `json:"id"`
	Score      float64   `json:"score"`
	CardID     string    `json:"card_id"`
	MerchantID string    `json:"merchant_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Timestamp  Timestamp `json:"timestamp"` // Data only; never rejects an event
	Reasons    []Reason  `json:"reasons,omitempty"`
}

// Reason is one human-readable contribution to a risk score.
type Reason struct {
	Feature     string  `json:"feature"`
	Importance  float64 `json:"importance"`
	Description string  `json:"description"`
}

// liveEventWire is the wire format for high_risk_transaction messages.
type liveEventWire struct {
	Type        string     `json:"type"`
	Transaction *LiveEvent `json:"transaction"`
}

// DecodeLiveEvent extracts the LiveEvent carried by an inbound message.
func DecodeLiveEvent(msg InboundMessage) (LiveEvent, error) {
	var wire liveEventWire
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return LiveEvent{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if wire.Transaction == nil {
		return LiveEvent{}, fmt.Errorf("decode %s: missing transaction", msg.Type)
	}
	return *wire.Transaction, nil
}

// Risk levels.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"
)

// RiskLevel buckets a score into a named level.
func RiskLevel(score float64) string {
	switch {
	case score > 0.8:
		return RiskCritical
	case score > 0.6:
		return RiskHigh
	case score > 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TopReasons returns at most n reason descriptions in order.
func (e LiveEvent) TopReasons(n int) []string {
	if n < 0 {
		n = 0
	}
	if n > len(e.Reasons) {
		n = len(e.Reasons)
	}
	out := make([]string, 0, n)
	for _, r := range e.Reasons[:n] {
		out = append(out, r.Description)
	}
	return out
}
