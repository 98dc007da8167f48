package server

import (
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feedwire/feedwire/pkg/protocol"
)

// HandleWebSocket upgrades a request to a websocket and runs the session
// lifecycle: Connecting → Authenticating → Active → Closed.
//
// Authentication reuses the web session cookie. A connection that cannot be
// resolved to a user is closed before it is ever registered, so the registry
// only holds authenticated sessions.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		debugLog.Printf("Websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	s.metrics.RecordConnection()

	sess := &Session{
		ID:         atomic.AddUint64(&s.nextSessionID, 1),
		Conn:       NewSafeConn(wsConn),
		RemoteAddr: r.RemoteAddr,
		state:      StateConnecting,
	}
	sess.transition(StateConnecting, StateAuthenticating)

	userID, err := s.resolveSessionIdentity(r)
	if err != nil {
		// Terminal for this connection attempt: no registration, no events.
		debugLog.Printf("Session %d: rejected unauthenticated connection from %s", sess.ID, sess.RemoteAddr)
		sess.closeState()
		wsConn.Close()
		return
	}
	sess.UserID = userID

	if !sess.transition(StateAuthenticating, StateActive) {
		wsConn.Close()
		return
	}

	if prev := s.registry.Register(sess); prev != nil {
		// The old connection is left open; its own read loop will clean it
		// up. See the registry doc comment.
		log.Printf("User %d reconnected (session %d replaces %d)", userID, sess.ID, prev.ID)
	}
	s.metrics.RecordActiveSessions(s.registry.Count())
	s.connectionsSinceReport.Add(1)

	if err := sess.Conn.WriteEvent(protocol.NewReady(userID)); err != nil {
		debugLog.Printf("Session %d: ws_ready write failed: %v", sess.ID, err)
		s.closeSession(sess)
		return
	}

	debugLog.Printf("Session %d: user %d connected from %s", sess.ID, userID, sess.RemoteAddr)
	s.readLoop(sess)
}

// readLoop processes inbound events for one session. Events from the same
// connection are handled strictly in order; concurrency exists only across
// sessions.
func (s *Server) readLoop(sess *Session) {
	defer s.closeSession(sess)

	safeConn := sess.Conn.(*SafeConn)
	for {
		raw, err := safeConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		ev, err := protocol.DecodeClientEvent(raw)
		if err != nil {
			s.metrics.RecordEventReceived("invalid")
			debugLog.Printf("Session %d: rejected event: %v", sess.ID, err)
			if werr := sess.Conn.WriteEvent(protocol.NewError("unrecognized event")); werr != nil {
				return
			}
			continue
		}

		if err := s.handleEvent(sess, ev); err != nil {
			// Per-operation failure: report to this connection only, keep
			// the session alive. Nothing here may cascade to other sessions.
			errorLog.Printf("Session %d (user %d): event failed: %v", sess.ID, sess.UserID, err)
			if werr := sess.Conn.WriteEvent(protocol.NewError("operation failed")); werr != nil {
				return
			}
		}
	}
}

// closeSession tears down a session: mark closed, unregister, close the
// transport. Unregistration happens synchronously before this returns, so
// there is no window where a closed connection remains discoverable.
func (s *Server) closeSession(sess *Session) {
	if !sess.closeState() {
		return
	}

	if s.registry.Unregister(sess) {
		s.metrics.RecordActiveSessions(s.registry.Count())
	}
	sess.Conn.Close()
	s.disconnectionsSinceReport.Add(1)
	debugLog.Printf("Session %d: user %d disconnected", sess.ID, sess.UserID)
}

// handleEvent dispatches one validated inbound event
func (s *Server) handleEvent(sess *Session, ev protocol.ClientEvent) error {
	switch ev := ev.(type) {
	case *protocol.SendMessage:
		s.metrics.RecordEventReceived(protocol.TypeDM)
		return s.handleSendMessage(sess, ev)
	case *protocol.FetchHistory:
		s.metrics.RecordEventReceived(protocol.TypeHistory)
		return s.handleFetchHistory(sess, ev)
	default:
		return errors.New("unhandled event type")
	}
}

// handleSendMessage runs the send pipeline: gate, persist, notify.
//
// The two steps after the gate are deliberately not transactional: once the
// message is durable, a lost realtime push is recoverable through history,
// so notification failures never unwind the write.
func (s *Server) handleSendMessage(sess *Session, ev *protocol.SendMessage) error {
	allowed, err := s.gate.MayMessage(sess.UserID, ev.ToUserID)
	if err != nil {
		return err
	}
	if !allowed {
		// A defined protocol outcome, not an error: the sender learns the
		// send was refused, nothing is persisted, nothing is forwarded.
		s.metrics.RecordMessageBlocked()
		return sess.Conn.WriteEvent(protocol.NewDMBlocked())
	}

	msg, err := s.db.AppendMessage(sess.UserID, ev.ToUserID, ev.Text)
	if err != nil {
		s.metrics.RecordPersistenceFailure()
		return err
	}
	s.metrics.RecordMessageSent()

	// Recipient first, if connected. Best effort: a dead recipient
	// connection must not affect the sender's echo.
	s.dispatcher.Notify(msg.To, protocol.NewIncomingDM(msg.From, msg.Text))
	s.dispatcher.Notify(msg.To, protocol.NewNewMessage())

	// The echo always goes out; persistence already succeeded.
	if err := sess.Conn.WriteEvent(protocol.NewDMSelf(msg.Text)); err != nil {
		return err
	}
	return sess.Conn.WriteEvent(protocol.NewNewMessage())
}

// handleFetchHistory returns the full conversation with another user,
// ascending by creation time. No pagination; conversations are assumed
// small (see DESIGN.md).
func (s *Server) handleFetchHistory(sess *Session, ev *protocol.FetchHistory) error {
	stored, err := s.db.ConversationBetween(sess.UserID, ev.WithUser)
	if err != nil {
		return err
	}

	messages := make([]*protocol.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, &protocol.Message{
			ID:        m.ID,
			From:      m.From,
			To:        m.To,
			Text:      m.Text,
			CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
		})
	}

	return sess.Conn.WriteEvent(protocol.NewHistory(messages))
}

// checkWSOrigin enforces the configured origin allowlist. With no origins
// configured the gorilla default applies: same-origin requests only.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients (tests, CLIs) send no Origin header
			return true
		}
		return equalASCIIFold(origin, "http://"+r.Host) || equalASCIIFold(origin, "https://"+r.Host)
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if equalASCIIFold(origin, allowed) {
			return true
		}
	}
	return false
}

func equalASCIIFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
