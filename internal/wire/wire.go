// ABOUTME: Network session abstraction decoupling the connection manager from client libraries.
// ABOUTME: Defines Dialer/Session interfaces, connection updates, inbound messages, and close codes.

package wire

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotConnected is returned by drivers when a send is attempted
// without an open session. Callers at the manager layer translate it
// into a silent no-op.
var ErrNotConnected = errors.New("wire: not connected")

// State describes the lifecycle phase a session reports.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// CloseCode classifies why a session closed. Drivers map their
// library's status values onto these; the reconnect policy table maps
// each code to a recovery strategy.
type CloseCode string

const (
	// CloseUnknown covers closes the driver cannot classify.
	CloseUnknown CloseCode = "unknown"
	// CloseRestartRequired is the network asking for an immediate
	// reconnect, for example after a server-side stream migration.
	CloseRestartRequired CloseCode = "restart_required"
	// CloseTransient covers ordinary recoverable drops: timeouts,
	// connection resets, gateway errors.
	CloseTransient CloseCode = "transient"
	// CloseLoggedOut means the network invalidated our credentials.
	// There is no point reconnecting until the operator pairs again.
	CloseLoggedOut CloseCode = "logged_out"
	// CloseIntentional marks a close we initiated ourselves (Stop,
	// watchdog force-close). The watchdog still expects a reconnect.
	CloseIntentional CloseCode = "intentional"
)

// ConnectionUpdate is delivered by a driver whenever the session's
// lifecycle changes. QR is set only during pairing, Code only when
// State is StateClosed.
type ConnectionUpdate struct {
	State State
	QR    string
	Code  CloseCode
	// Reason carries the driver's human-readable close detail for logs.
	Reason string
}

// MediaKind flags the attachment class of an inbound message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Message is a normalized inbound event. Exactly one of the text
// variants is populated by the driver; Text() collapses them.
type Message struct {
	ID        string
	ChatID    string
	ThreadID  string
	SenderID  string
	Timestamp time.Time

	// Text variants, in precedence order.
	Plain   string
	Quoted  string // body of a quoted-reply event
	Caption string // caption attached to media

	Media MediaKind

	// Group and Broadcast mark delivery types the relay drops.
	Group     bool
	Broadcast bool
	// FromSelf is set when the driver can attribute the event to our
	// own account even without an echo record.
	FromSelf bool
}

// Text returns the first populated text variant.
func (m *Message) Text() string {
	for _, s := range []string{m.Plain, m.Quoted, m.Caption} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// HasContent reports whether the message carries anything worth
// dispatching: extractable text or an attachment.
func (m *Message) HasContent() bool {
	return m.Text() != "" || m.Media != MediaNone
}

// Media is one outbound attachment.
type Media struct {
	Kind     MediaKind
	Filename string
	MimeType string
	Data     []byte
	Caption  string
}

// Handlers is the explicit registration surface a Session delivers
// events through. Nil fields are skipped by drivers.
type Handlers struct {
	// OnConnectionUpdate receives lifecycle transitions, including the
	// terminal close for this session.
	OnConnectionUpdate func(ConnectionUpdate)
	// OnMessages receives batches of normalized inbound messages in
	// network-delivery order.
	OnMessages func([]Message)
	// OnCredentialUpdate fires whenever the network rotates protocol
	// keys, after the driver has persisted them.
	OnCredentialUpdate func()
}

// Session is one live, credentialed connection to the network. All
// methods are safe to call from multiple goroutines; drivers return
// ErrNotConnected from sends once the session has closed.
type Session interface {
	// Run drives the session's event loop until ctx is cancelled or
	// the session closes. The terminal close is reported through
	// OnConnectionUpdate before Run returns.
	Run(ctx context.Context) error

	// SendText delivers one text message and returns the network
	// message id for echo suppression.
	SendText(ctx context.Context, chatID, text string) (string, error)
	// SendMedia uploads and delivers one attachment, returning the
	// network message id.
	SendMedia(ctx context.Context, chatID string, media Media) (string, error)
	// SendReaction attaches an emoji reaction to an existing message.
	SendReaction(ctx context.Context, chatID, messageID, emoji string) (string, error)
	// SendPresence toggles the typing indicator for a chat.
	SendPresence(ctx context.Context, chatID string, typing bool) error

	// Identity returns the network account identifier once known,
	// empty before login completes.
	Identity() string

	// Close tears the session down. Idempotent.
	Close() error
}

// PairingCallbacks receive progress during interactive pairing.
type PairingCallbacks struct {
	// OnQR is invoked for the initial pairing code and each refresh.
	OnQR func(code string)
	// OnConnected fires once credentials are established.
	OnConnected func(identity string)
}

// Dialer opens sessions. The connection manager depends on this
// interface so its state machine is testable against a fake network.
type Dialer interface {
	// Dial opens a session using previously stored credentials.
	Dial(ctx context.Context, handlers Handlers) (Session, error)
	// Pair runs the interactive pairing flow, persisting credentials
	// through the driver's store on success. It blocks until paired,
	// ctx is cancelled, or the pairing code expires.
	Pair(ctx context.Context, callbacks PairingCallbacks, handlers Handlers) (Session, error)
}
