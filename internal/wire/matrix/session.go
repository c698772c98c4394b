// ABOUTME: Live Matrix session implementing wire.Session over a mautrix client.
// ABOUTME: Normalizes sync events into wire messages and classifies close reasons.

package matrix

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/wire"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// sendTimeout bounds individual Matrix API calls so a hung homeserver
// cannot stall the relay loop.
const sendTimeout = 30 * time.Second

type session struct {
	client   *mautrix.Client
	cfg      Config
	handlers wire.Handlers
	logger   *slog.Logger

	mu      sync.Mutex
	open    bool
	cancel  context.CancelFunc
	members map[id.RoomID]int

	closeOnce    sync.Once
	versionsOnce sync.Once
}

var _ wire.Session = (*session)(nil)

func newSession(client *mautrix.Client, cfg Config, handlers wire.Handlers, logger *slog.Logger) *session {
	return &session{
		client:   client,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		members:  make(map[id.RoomID]int),
	}
}

// Run drives the sync loop until ctx is cancelled or the homeserver
// drops us. The terminal close is reported through the connection
// update handler before Run returns.
func (s *session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	syncer, ok := s.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, s.handleMessageEvent)

	s.emit(wire.ConnectionUpdate{State: wire.StateConnecting})
	s.probeVersions(ctx)

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.emit(wire.ConnectionUpdate{State: wire.StateOpen})

	err := s.client.SyncWithContext(ctx)

	s.mu.Lock()
	s.open = false
	s.mu.Unlock()

	code, reason := classifyClose(ctx, err)
	s.emit(wire.ConnectionUpdate{State: wire.StateClosed, Code: code, Reason: reason})

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// probeVersions fetches the homeserver's supported spec versions once
// per session, for diagnostics only.
func (s *session) probeVersions(ctx context.Context) {
	s.versionsOnce.Do(func() {
		resp, err := s.client.Versions(ctx)
		if err != nil {
			s.logger.Debug("failed to fetch server versions", "error", err)
			return
		}
		s.logger.Debug("homeserver versions", "versions", resp.Versions)
	})
}

// classifyClose maps a sync loop exit onto a close code.
func classifyClose(ctx context.Context, err error) (wire.CloseCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), ctx.Err() != nil:
		return wire.CloseIntentional, "sync stopped"
	case errors.Is(err, mautrix.MUnknownToken):
		return wire.CloseLoggedOut, "access token invalidated"
	default:
		return wire.CloseTransient, err.Error()
	}
}

func (s *session) emit(update wire.ConnectionUpdate) {
	if s.handlers.OnConnectionUpdate != nil {
		s.handlers.OnConnectionUpdate(update)
	}
}

// handleMessageEvent converts one Matrix message event into a wire
// message and delivers it.
func (s *session) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if s.handlers.OnMessages == nil {
		return
	}
	if !s.roomAllowed(evt.RoomID) {
		return
	}

	msg, ok := s.normalize(ctx, evt)
	if !ok {
		return
	}
	s.handlers.OnMessages([]wire.Message{msg})
}

// normalize maps a Matrix event onto the wire message shape: plain
// body, quoted-reply body, or media caption plus a media kind.
func (s *session) normalize(ctx context.Context, evt *event.Event) (wire.Message, bool) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return wire.Message{}, false
	}

	msg := wire.Message{
		ID:        evt.ID.String(),
		ChatID:    evt.RoomID.String(),
		SenderID:  evt.Sender.String(),
		Timestamp: time.UnixMilli(evt.Timestamp),
		FromSelf:  evt.Sender == s.client.UserID,
		Group:     s.isGroupRoom(ctx, evt.RoomID),
	}
	if rel := content.RelatesTo; rel != nil && rel.Type == event.RelThread {
		msg.ThreadID = rel.EventID.String()
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		if content.RelatesTo.GetReplyTo() != "" {
			msg.Quoted = content.Body
		} else {
			msg.Plain = content.Body
		}
	case event.MsgImage:
		msg.Media = wire.MediaImage
		msg.Caption = content.Body
	case event.MsgVideo:
		msg.Media = wire.MediaVideo
		msg.Caption = content.Body
	case event.MsgAudio:
		msg.Media = wire.MediaAudio
		msg.Caption = content.Body
	case event.MsgFile:
		msg.Media = wire.MediaDocument
		msg.Caption = content.Body
	default:
		return wire.Message{}, false
	}
	return msg, true
}

// isGroupRoom reports whether the room has more than two joined
// members. Counts are cached for the session's lifetime; membership
// churn mid-session only affects future sessions.
func (s *session) isGroupRoom(ctx context.Context, roomID id.RoomID) bool {
	s.mu.Lock()
	count, ok := s.members[roomID]
	s.mu.Unlock()

	if !ok {
		resp, err := s.client.JoinedMembers(ctx, roomID)
		if err != nil {
			s.logger.Debug("failed to fetch room members", "room", roomID.String(), "error", err)
			return false
		}
		count = len(resp.Joined)
		s.mu.Lock()
		s.members[roomID] = count
		s.mu.Unlock()
	}
	return count > 2
}

func (s *session) roomAllowed(roomID id.RoomID) bool {
	if len(s.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedRooms {
		if allowed == roomID.String() {
			return true
		}
	}
	return false
}

func (s *session) SendText(ctx context.Context, chatID, text string) (string, error) {
	if !s.isOpen() {
		return "", wire.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := s.client.SendText(ctx, id.RoomID(chatID), text)
	if err != nil {
		return "", err
	}
	return resp.EventID.String(), nil
}

func (s *session) SendMedia(ctx context.Context, chatID string, media wire.Media) (string, error) {
	if !s.isOpen() {
		return "", wire.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	upload, err := s.client.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: media.Data,
		ContentType:  media.MimeType,
		FileName:     media.Filename,
	})
	if err != nil {
		return "", err
	}

	content := &event.MessageEventContent{
		MsgType: msgTypeForMedia(media.Kind),
		Body:    media.Filename,
		URL:     upload.ContentURI.CUString(),
	}
	if media.Caption != "" {
		content.Body = media.Caption
	}

	resp, err := s.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID.String(), nil
}

func msgTypeForMedia(kind wire.MediaKind) event.MessageType {
	switch kind {
	case wire.MediaImage:
		return event.MsgImage
	case wire.MediaVideo:
		return event.MsgVideo
	case wire.MediaAudio:
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

func (s *session) SendReaction(ctx context.Context, chatID, messageID, emoji string) (string, error) {
	if !s.isOpen() {
		return "", wire.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := s.client.SendReaction(ctx, id.RoomID(chatID), id.EventID(messageID), emoji)
	if err != nil {
		return "", err
	}
	return resp.EventID.String(), nil
}

func (s *session) SendPresence(ctx context.Context, chatID string, typing bool) error {
	if !s.isOpen() {
		return wire.ErrNotConnected
	}
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := s.client.UserTyping(ctx, id.RoomID(chatID), typing, timeout)
	return err
}

func (s *session) Identity() string {
	return s.client.UserID.String()
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close stops the sync loop. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.client.StopSync()
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.open = false
		s.mu.Unlock()
	})
	return nil
}
