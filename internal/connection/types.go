package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/alert-feed/internal/model"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrRetriesExhausted  = errors.New("reconnect attempts exhausted")
	ErrManagerClosed     = errors.New("transport manager closed")
	ErrMissingIdentity   = errors.New("identity is required")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnexpectedClosure = errors.New("connection closed by peer")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Identity is carried on the connect handshake.
type Identity struct {
	ID    string
	Role  string
	Token string // Optional bearer token
}

// -----------------------------------------------------------------------------
// Wire frames
// -----------------------------------------------------------------------------

// Command is a frame sent to the broker.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"` // "subscribe", "unsubscribe", "publish"
	Params any    `json:"params"`
}

// TopicParams are parameters for subscribe and unsubscribe commands.
type TopicParams struct {
	Topic string `json:"topic"`
}

// PublishParams are parameters for a publish command.
type PublishParams struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// Frame is any frame received from the broker.
type Frame struct {
	ID    int64           `json:"id,omitempty"`
	Type  string          `json:"type"` // "message", "subscribed", "unsubscribed", "ok", "error"
	Topic string          `json:"topic,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
}

// ErrorMsg is the message content for an "error" frame.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------
// Lifecycle events
// -----------------------------------------------------------------------------

// EventKind enumerates lifecycle events. The set is closed; switch on it
// exhaustively.
type EventKind int

const (
	EventConnecting EventKind = iota + 1
	EventConnected
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// State returns the connection state this event moves into.
func (k EventKind) State() model.ConnectionState {
	switch k {
	case EventConnecting:
		return model.Connecting
	case EventConnected:
		return model.Connected
	case EventError:
		return model.Error
	default:
		return model.Disconnected
	}
}

// Event is a lifecycle transition of the Manager.
type Event struct {
	Kind      EventKind
	Err       error     // Reason, set for EventError and unexpected EventDisconnected
	Requested bool      // True when Disconnect was called by the owner
	Attempt   int       // Reconnect attempt number, 0 for the first connect
	At        time.Time // Local time of the transition
}

// Listener receives lifecycle events in transition order with no manager
// lock held. A listener may call Connect, Reconnect or Disconnect; the
// events those produce are delivered after the listener returns. Close
// must not be called from a listener.
type Listener func(Event)

// InboundHandler receives the body of every "message" frame.
type InboundHandler func(topic string, body []byte)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://alerts.example.com/ws)
	Identity         Identity      // Sent as headers and query parameters on the handshake
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // How often the client pings the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// RetryMode selects the interval strategy between reconnect attempts.
type RetryMode string

const (
	RetryFixed       RetryMode = "fixed"
	RetryExponential RetryMode = "exponential"
)

// RetryPolicy bounds automatic reconnection.
type RetryPolicy struct {
	Mode        RetryMode
	Interval    time.Duration // Fixed interval, or initial interval for exponential
	MaxInterval time.Duration // Cap for exponential
	Multiplier  float64       // Growth factor for exponential (default 2)
	Jitter      float64       // Randomization factor for exponential, 0 disables
	MaxAttempts int           // Attempts before the terminal Error state
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Mode:        RetryExponential,
		Interval:    1 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

// ManagerConfig configures the Transport Manager.
type ManagerConfig struct {
	Client         ClientConfig  // URL and socket settings; Identity is filled by Connect
	Retry          RetryPolicy   // Automatic reconnection policy
	ConnectTimeout time.Duration // Bound on a single connect attempt
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		Retry:          DefaultRetryPolicy(),
		ConnectTimeout: 15 * time.Second,
	}
}

// ManagerStats provides statistics about the transport.
type ManagerStats struct {
	State           model.ConnectionState
	Attempts        int   // Reconnect attempts since last success
	Connects        int64 // Successful connects since start
	FramesReceived  int64
	ParseErrors     int64
	PublishDrops    int64
	LastError       string
	SessionID       string // Identifier of the current socket, for logs
	LastConnectedAt time.Time
}
