// ABOUTME: Connection manager owning the single network session and its recovery.
// ABOUTME: Drives pairing, reconnect backoff, the stale-session watchdog, and inbound dispatch.

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/chunker"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/wire"
)

var (
	// ErrPairingInProgress is returned when pairing is requested while
	// a previous pairing attempt is still running.
	ErrPairingInProgress = errors.New("pairing already in progress")
	// ErrNoPairingCode is returned by the bounded pairing variant when
	// the timeout elapses before the network issues a code.
	ErrNoPairingCode = errors.New("no pairing code issued before timeout")
	// ErrAlreadyRunning is returned when the session supervisor is
	// already active.
	ErrAlreadyRunning = errors.New("connection already running")
)

// State is the manager's lifecycle phase.
type State string

const (
	StateUnpaired     State = "unpaired"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLoggedOut    State = "logged_out"
)

// Status is the startup contract result.
type Status string

const (
	// StatusConnecting means stored credentials exist and a session is
	// being opened in the background.
	StatusConnecting Status = "connecting"
	// StatusAwaitingPairing means no credentials exist; the caller
	// must run pairing before anything connects.
	StatusAwaitingPairing Status = "awaiting_pairing"
)

// Config tunes the manager. Zero values take the documented defaults.
type Config struct {
	Backoff Backoff
	// ChunkLimit is the maximum outbound text piece size in runes.
	ChunkLimit int
	// EchoTTL is how long a sent message id suppresses its own echo.
	EchoTTL time.Duration
	// WatchdogInterval is how often session liveness is checked.
	WatchdogInterval time.Duration
	// StaleThreshold is the inbound silence after which the watchdog
	// forces the session closed.
	StaleThreshold time.Duration
}

func (c Config) withDefaults() Config {
	def := DefaultBackoff()
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = def.Base
	}
	if c.Backoff.Factor < 1 {
		c.Backoff.Factor = def.Factor
	}
	if c.Backoff.Cap <= 0 {
		c.Backoff.Cap = def.Cap
	}
	if c.Backoff.Jitter <= 0 {
		c.Backoff.Jitter = def.Jitter
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 4000
	}
	if c.EchoTTL <= 0 {
		c.EchoTTL = 60 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 60 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 30 * time.Minute
	}
	return c
}

// Handler receives inbound messages that survive dispatch filtering.
type Handler func(msg wire.Message)

// Manager owns the network session: it pairs, connects, reconnects
// with backoff per the close-code policy, watches for silent stalls,
// filters inbound events, and exposes the send primitives.
type Manager struct {
	dialer wire.Dialer
	creds  store.CredentialStore
	policy wire.ReconnectPolicy
	cfg    Config
	echoes *dedupe.Suppressor
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	session       wire.Session
	pending       wire.Session
	attempt       int
	lastInbound   time.Time
	lastClose     wire.CloseCode
	handler       Handler
	running       bool
	cancel        context.CancelFunc
	pairingCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewManager creates a manager. Start or StartPairing must be called
// before any sends go anywhere.
func NewManager(dialer wire.Dialer, creds store.CredentialStore, policy wire.ReconnectPolicy, cfg Config, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	if policy == nil {
		policy = wire.DefaultReconnectPolicy()
	}
	return &Manager{
		dialer: dialer,
		creds:  creds,
		policy: policy,
		cfg:    cfg,
		echoes: dedupe.New(cfg.EchoTTL),
		logger: logger.With("component", "connection"),
		state:  StateUnpaired,
	}
}

// OnMessage registers the inbound message handler. Must be called
// before Start.
func (m *Manager) OnMessage(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Start checks for stored credentials. With none it returns
// StatusAwaitingPairing without opening anything; otherwise it starts
// the session supervisor and returns StatusConnecting. The supervisor
// runs until ctx is cancelled or the network logs us out.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	rec, err := m.creds.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading credentials: %w", err)
	}
	if !rec.Registered {
		m.setState(StateUnpaired)
		m.logger.Info("no stored credentials, awaiting pairing")
		return StatusAwaitingPairing, nil
	}

	m.setState(StateReconnecting)
	if err := m.startSupervisor(ctx); err != nil {
		return "", err
	}
	return StatusConnecting, nil
}

// StartPairing runs the interactive pairing flow. Pairing codes and
// the eventual success are reported through callbacks; errors come
// back synchronously. ctx bounds the pairing attempt only: on success
// the manager adopts the new session and supervises it until Stop, so
// a pairing deadline cannot tear down the session it just produced.
func (m *Manager) StartPairing(ctx context.Context, callbacks wire.PairingCallbacks) error {
	m.mu.Lock()
	if m.state == StatePairing {
		m.mu.Unlock()
		return ErrPairingInProgress
	}
	pairCtx, cancel := context.WithCancel(ctx)
	m.pairingCancel = cancel
	m.state = StatePairing
	m.mu.Unlock()
	defer cancel()

	sess, err := m.dialer.Pair(pairCtx, callbacks, m.handlers())

	m.mu.Lock()
	m.pairingCancel = nil
	m.mu.Unlock()

	if err != nil {
		m.setState(StateUnpaired)
		if pairCtx.Err() != nil {
			return fmt.Errorf("pairing cancelled: %w", pairCtx.Err())
		}
		return fmt.Errorf("pairing failed: %w", err)
	}

	m.mu.Lock()
	m.pending = sess
	m.mu.Unlock()

	if err := m.startSupervisor(context.WithoutCancel(ctx)); err != nil {
		sess.Close()
		return err
	}
	return nil
}

// PairWithTimeout is the bounded pairing variant: it fails with
// ErrNoPairingCode if the network issues no code within timeout, and
// with a plain timeout error if a code was shown but never scanned.
func (m *Manager) PairWithTimeout(ctx context.Context, timeout time.Duration, callbacks wire.PairingCallbacks) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	sawCode := false
	wrapped := callbacks
	wrapped.OnQR = func(code string) {
		mu.Lock()
		sawCode = true
		mu.Unlock()
		if callbacks.OnQR != nil {
			callbacks.OnQR(code)
		}
	}

	err := m.StartPairing(ctx, wrapped)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		mu.Lock()
		defer mu.Unlock()
		if !sawCode {
			return ErrNoPairingCode
		}
		return fmt.Errorf("pairing code expired unscanned: %w", err)
	}
	return err
}

// CancelPairing aborts an in-progress pairing attempt. The session is
// torn down and no credentials are persisted.
func (m *Manager) CancelPairing() {
	m.mu.Lock()
	cancel := m.pairingCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop closes the session and waits for the supervisor to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	sess := m.session
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Close()
	}
	m.wg.Wait()
	m.echoes.Close()
}

// startSupervisor launches the run loop and watchdog.
func (m *Manager) startSupervisor(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel

	m.wg.Add(2)
	go m.runLoop(runCtx)
	go m.watchdog(runCtx)
	return nil
}

// runLoop dials, runs, and recovers sessions until ctx is cancelled or
// the policy says to stop.
func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for ctx.Err() == nil {
		code := m.runSession(ctx)
		if ctx.Err() != nil {
			return
		}

		switch m.policy.Resolve(code) {
		case wire.StrategyLogout:
			m.logger.Warn("credentials invalidated, wiping store", "code", code)
			if err := m.creds.ClearAll(ctx); err != nil {
				m.logger.Error("failed to clear credentials", "error", err)
			}
			m.setState(StateLoggedOut)
			return

		case wire.StrategyImmediate:
			m.logger.Info("network requested restart, reconnecting immediately")
			m.setState(StateReconnecting)

		default:
			m.mu.Lock()
			m.attempt++
			attempt := m.attempt
			m.mu.Unlock()
			delay := m.cfg.Backoff.Delay(attempt)
			m.setState(StateReconnecting)
			m.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay, "code", code)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// runSession runs one session to completion and returns its close code.
func (m *Manager) runSession(ctx context.Context) wire.CloseCode {
	m.mu.Lock()
	sess := m.pending
	m.pending = nil
	m.lastClose = wire.CloseUnknown
	m.mu.Unlock()

	if sess == nil {
		var err error
		sess, err = m.dialer.Dial(ctx, m.handlers())
		if err != nil {
			m.logger.Error("dial failed", "error", err)
			return wire.CloseTransient
		}
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	if err := sess.Run(ctx); err != nil {
		m.logger.Error("session ended with error", "error", err)
	}

	m.mu.Lock()
	m.session = nil
	code := m.lastClose
	m.mu.Unlock()
	return code
}

// handlers builds the registration surface handed to the driver.
func (m *Manager) handlers() wire.Handlers {
	return wire.Handlers{
		OnConnectionUpdate: m.onConnectionUpdate,
		OnMessages:         m.dispatch,
		OnCredentialUpdate: func() {
			m.logger.Debug("protocol keys rotated")
		},
	}
}

func (m *Manager) onConnectionUpdate(update wire.ConnectionUpdate) {
	switch update.State {
	case wire.StateOpen:
		m.mu.Lock()
		m.state = StateConnected
		m.attempt = 0
		m.lastInbound = time.Now()
		m.mu.Unlock()
		m.logger.Info("session open")
	case wire.StateClosed:
		m.mu.Lock()
		m.lastClose = update.Code
		m.mu.Unlock()
		m.logger.Info("session closed", "code", update.Code, "reason", update.Reason)
	}
}

// dispatch filters one inbound batch: group and broadcast deliveries
// are dropped, self-echo is suppressed, and the handler only fires for
// messages with extractable text or media.
func (m *Manager) dispatch(msgs []wire.Message) {
	for i := range msgs {
		msg := msgs[i]

		m.mu.Lock()
		m.lastInbound = time.Now()
		handler := m.handler
		m.mu.Unlock()

		if msg.Group || msg.Broadcast {
			m.logger.Debug("dropping non-private message", "chat", msg.ChatID)
			continue
		}
		if msg.FromSelf || m.echoes.IsEcho(msg.ID) {
			m.logger.Debug("dropping self-echo", "message_id", msg.ID)
			continue
		}
		if !msg.HasContent() {
			continue
		}
		if handler != nil {
			handler(msg)
		}
	}
}

// watchdog forces the session closed when inbound traffic goes silent
// for longer than the stale threshold. The close flows through the
// normal reconnect path.
func (m *Manager) watchdog(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			connected := m.state == StateConnected
			idle := time.Since(m.lastInbound)
			sess := m.session
			m.mu.Unlock()

			if connected && sess != nil && idle > m.cfg.StaleThreshold {
				m.logger.Warn("no inbound activity, forcing reconnect", "idle", idle)
				sess.Close()
			}
		}
	}
}

// SendText routes text through the chunker and sends each piece in
// order, recording every returned message id for echo suppression.
// Silently a no-op when no session is open.
func (m *Manager) SendText(ctx context.Context, chatID, text string) {
	sess := m.connectedSession()
	if sess == nil {
		m.logger.Debug("dropping outbound text, not connected", "chat", chatID)
		return
	}
	for _, piece := range chunker.Chunk(text, m.cfg.ChunkLimit) {
		id, err := sess.SendText(ctx, chatID, piece)
		if err != nil {
			if errors.Is(err, wire.ErrNotConnected) {
				m.logger.Debug("session closed mid-send", "chat", chatID)
			} else {
				m.logger.Error("failed to send text", "chat", chatID, "error", err)
			}
			return
		}
		m.echoes.Record(id)
	}
}

// SendMedia uploads and sends one attachment. No-op when no session is
// open.
func (m *Manager) SendMedia(ctx context.Context, chatID string, media wire.Media) {
	sess := m.connectedSession()
	if sess == nil {
		m.logger.Debug("dropping outbound media, not connected", "chat", chatID)
		return
	}
	id, err := sess.SendMedia(ctx, chatID, media)
	if err != nil {
		m.logger.Error("failed to send media", "chat", chatID, "error", err)
		return
	}
	m.echoes.Record(id)
}

// SendReaction attaches a reaction. No-op when no session is open.
func (m *Manager) SendReaction(ctx context.Context, chatID, messageID, emoji string) {
	sess := m.connectedSession()
	if sess == nil {
		return
	}
	id, err := sess.SendReaction(ctx, chatID, messageID, emoji)
	if err != nil {
		m.logger.Debug("failed to send reaction", "chat", chatID, "error", err)
		return
	}
	m.echoes.Record(id)
}

// SendPresence toggles the typing indicator. No-op when no session is
// open.
func (m *Manager) SendPresence(ctx context.Context, chatID string, typing bool) {
	sess := m.connectedSession()
	if sess == nil {
		return
	}
	if err := sess.SendPresence(ctx, chatID, typing); err != nil {
		m.logger.Debug("failed to set presence", "chat", chatID, "error", err)
	}
}

func (m *Manager) connectedSession() wire.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.session
}

// IsConnected reports whether a session is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the network account identifier of the live session,
// empty when disconnected.
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Identity()
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
