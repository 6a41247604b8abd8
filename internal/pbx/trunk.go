package pbx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

// LinkState is the outbound trunk link state.
type LinkState string

const (
	LinkDisabled  LinkState = "disabled" // no trunk peer configured
	LinkDialing   LinkState = "dialing"
	LinkConnected LinkState = "connected"
	LinkFailed    LinkState = "failed"
)

// LinkStatus is a snapshot of the outbound trunk link for the ops API and
// metrics.
type LinkStatus struct {
	State        LinkState  `json:"state"`
	PeerAddr     string     `json:"peer_addr,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	RetryAttempt int        `json:"retry_attempt,omitempty"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
}

// trunkHandler consumes inbound trunk messages. *Server implements it.
type trunkHandler interface {
	HandleTrunkMessage(msg wire.Message)
}

// Trunk maintains the asymmetric link to the sibling node: an outbound
// send-only connection kept alive by a persistent redial loop, and an
// inbound receive-only listener accepting one connection at a time. The two
// directions are fully independent.
type Trunk struct {
	peerAddr string
	retry    time.Duration
	handler  trunkHandler
	logger   *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	enc    *wire.Encoder
	status LinkStatus
}

// NewTrunk creates the trunk engine. peerAddr may be empty for a standalone
// node; Send then drops every message.
func NewTrunk(peerAddr string, retry time.Duration, handler trunkHandler, logger *slog.Logger) *Trunk {
	state := LinkDisabled
	if peerAddr != "" {
		state = LinkDialing
	}
	return &Trunk{
		peerAddr: peerAddr,
		retry:    retry,
		handler:  handler,
		logger:   logger.With("subsystem", "trunk"),
		status:   LinkStatus{State: state, PeerAddr: peerAddr},
	}
}

// Status returns a snapshot of the outbound link state.
func (t *Trunk) Status() LinkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Send delivers msg over the outbound link. A missing or failed link drops
// the message: there is no retry and the originating caller is not told.
// The handle is read under the same lock that the dialer swaps it under, so
// a reconnect cannot interleave with a send on a stale handle.
func (t *Trunk) Send(msg wire.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enc == nil {
		t.logger.Warn("trunk not connected, dropping message", "type", msg.Type, "to", msg.To)
		return
	}
	if err := t.enc.Encode(msg); err != nil {
		t.logger.Warn("trunk send failed, dropping message", "type", msg.Type, "to", msg.To, "error", err)
		// Closing wakes the dialer's liveness read, which redials.
		t.conn.Close()
		t.conn = nil
		t.enc = nil
	}
}

// Close tears down the outbound connection.
func (t *Trunk) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
		t.enc = nil
	}
}

// dialLoop keeps the outbound connection alive: dial, publish the handle,
// block until the connection dies, redial after the retry interval. The
// link is send-only; the blocking read serves purely as liveness detection
// and discards anything the sibling would erroneously send.
func (t *Trunk) dialLoop(ctx context.Context) {
	t.logger.Info("outbound trunk dialer starting", "peer", t.peerAddr, "retry", t.retry)

	var dialer net.Dialer
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := dialer.DialContext(ctx, "tcp", t.peerAddr)
		if err != nil {
			attempt++
			t.setFailed(err, attempt)
			if attempt == 1 {
				t.logger.Warn("trunk dial failed, will keep retrying", "peer", t.peerAddr, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.retry):
			}
			continue
		}

		attempt = 0
		t.publish(conn)
		t.logger.Info("trunk connected", "peer", t.peerAddr)

		// Block until the connection dies. No message is ever expected on
		// the outbound handle.
		_, err = io.Copy(io.Discard, conn)
		t.unpublish(conn)
		t.logger.Warn("trunk disconnected", "peer", t.peerAddr, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.retry):
		}
	}
}

// publish installs a freshly dialed connection as the single live outbound
// handle, replacing (and closing) any previous one.
func (t *Trunk) publish(conn net.Conn) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.enc = wire.NewEncoder(conn)
	t.status = LinkStatus{State: LinkConnected, PeerAddr: t.peerAddr, ConnectedAt: &now}
}

// unpublish clears the handle if conn is still the live one.
func (t *Trunk) unpublish(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
		t.enc = nil
	}
	conn.Close()
	t.status = LinkStatus{State: LinkDialing, PeerAddr: t.peerAddr}
}

func (t *Trunk) setFailed(err error, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = LinkStatus{
		State:        LinkFailed,
		PeerAddr:     t.peerAddr,
		LastError:    err.Error(),
		RetryAttempt: attempt,
	}
}

// serveInbound accepts trunk connections from the sibling one at a time and
// pumps their messages until they close. There is no reconnect logic on
// this side: the sibling's dialer is expected to come back, and a new
// connection simply replaces message delivery.
func (t *Trunk) serveInbound(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Error("inbound trunk accept failed", "error", err)
			return
		}

		t.logger.Info("inbound trunk connected", "remote_addr", conn.RemoteAddr().String())
		t.pumpInbound(ctx, conn)
		t.logger.Info("inbound trunk closed", "remote_addr", conn.RemoteAddr().String())
	}
}

// pumpInbound decodes trunk messages off one inbound connection and hands
// them to the handler. Nothing is ever written on the inbound side.
func (t *Trunk) pumpInbound(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dec := wire.NewDecoder(conn)
	for {
		msg, err := dec.Next()
		if err != nil {
			return
		}
		t.handler.HandleTrunkMessage(msg)
	}
}

// HandleTrunkMessage applies one inbound trunk message to local state. The
// sibling node is authoritative for its own extensions; these handlers only
// ever mutate sessions owned by this node.
func (s *Server) HandleTrunkMessage(msg wire.Message) {
	switch msg.Type {
	case wire.TypeTrunkCall:
		s.handleTrunkCall(msg.From, msg.To)

	case wire.TypeTrunkCallAnswered:
		// Pure notification, consistent with local answer: no state change.
		s.emit(msg.To, wire.CallAnswered(msg.From))

	case wire.TypeTrunkBusy:
		// Compensate the caller's optimistic transition.
		s.reg.SetIdle(msg.To)
		s.emit(msg.To, wire.Busy(msg.From))
		s.logger.Info("trunk call rejected busy", "caller", msg.To, "callee", msg.From)

	case wire.TypeTrunkHangup:
		// The sending node already idled its own side before sending.
		s.reg.SetIdle(msg.To)
		s.emit(msg.To, wire.Hangup(msg.From))
		s.logger.Info("trunk call ended", "by", msg.From, "extension", msg.To)

	case wire.TypeTrunkChat:
		s.emit(msg.To, wire.Chat(msg.From, msg.Text))

	default:
		s.logger.Debug("unknown trunk message type", "type", msg.Type)
	}
}

// handleTrunkCall processes a call offer from the sibling node for a local
// extension. An absent or busy callee is answered with trunk_busy; the
// remote node is responsible for rolling its caller back.
func (s *Server) handleTrunkCall(from, to string) {
	callID := uuid.NewString()
	outcome, calleeSess := s.reg.AcceptRemoteCall(to, from, callID)
	switch outcome {
	case registry.CalleeAbsent:
		s.trunkOut.Send(wire.TrunkBusy(to, from))

	case registry.CalleeBusy:
		s.trunkOut.Send(wire.TrunkBusy(to, from))
		if err := calleeSess.Send(wire.IncomingCallWaiting(from)); err != nil {
			s.logger.Debug("call waiting notice failed", "extension", to, "error", err)
		}

	case registry.Established:
		s.emit(to, wire.IncomingCall(from))
		s.logger.Info("trunk call established",
			"call_id", callID,
			"from", from,
			"to", to,
		)
	}
}
