package connection

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/fraudwatch-sync/internal/backoff"
	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// Errors
var (
	ErrNoAddress = errors.New("no connection address")
	ErrClosed    = errors.New("connection closed")
)

// State is a Connection Manager lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
	StateFailed // reconnect attempts exhausted; needs a manual Open
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the externally visible connection status.
type Status struct {
	State     State         `json:"state"`
	URL       string        `json:"url,omitempty"`
	Session   uuid.UUID     `json:"session"`
	Attempt   int           `json:"attempt"`              // Automatic reconnects scheduled so far
	NextRetry time.Duration `json:"next_retry,omitempty"` // Delay of the pending reconnect
	Terminal  bool          `json:"terminal"`             // No further automatic attempts
	Err       error         `json:"-"`
	Since     time.Time     `json:"since"`
}

// Connected reports whether the connection is open.
func (s Status) Connected() bool {
	return s.State == StateOpen
}

// Kind discriminates notifications.
type Kind int

const (
	KindMessage Kind = iota
	KindStatus
	KindDecodeError
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStatus:
		return "status"
	case KindDecodeError:
		return "decode_error"
	default:
		return "unknown"
	}
}

// Notification is delivered to every subscriber.
type Notification struct {
	Kind    Kind
	Message *model.InboundMessage // KindMessage
	Event   *model.LiveEvent      // KindMessage, set for live event types
	Status  Status                // KindStatus, and current status for others
	Err     *DecodeError          // KindDecodeError
}

// Handler receives notifications on the dispatch queue.
type Handler func(Notification)

// DecodeError describes an inbound payload that could not be decoded.
type DecodeError struct {
	Raw        []byte
	ReceivedAt time.Time
	Err        error
}

func (e *DecodeError) Error() string {
	return "decode inbound message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string         // Push endpoint (e.g., ws://localhost:8080/ws); empty = do not open
	HeartbeatInterval time.Duration  // Keep-alive cadence while open
	Backoff           backoff.Policy // Reconnect delays and attempt limit
	LiveEventTypes    []string       // Message types copied into the live event buffer
	SendBufferSize    int            // Outbound messages queued per session
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval: 30 * time.Second,
		Backoff:           backoff.DefaultPolicy(),
		LiveEventTypes:    []string{model.TypeHighRiskTransaction},
		SendBufferSize:    64,
	}
}
