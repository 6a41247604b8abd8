// Package pbx implements the call-signaling exchange: endpoint session
// transport, dial-plan routing, the local call state machine, the single-use
// IVR menu and the inter-node trunk protocol.
package pbx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linepbx/linepbx/internal/config"
	"github.com/linepbx/linepbx/internal/database"
	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

// trunkSender abstracts the outbound trunk link for the call handlers.
// *Trunk implements it; tests substitute a capture.
type trunkSender interface {
	Send(msg wire.Message)
}

// Server accepts endpoint connections, pumps their signaling messages and
// routes calls between local sessions and the trunk link.
type Server struct {
	cfg      *config.Config
	reg      *registry.Registry
	dir      database.ExtensionDirectory // may be nil (no persistence)
	trunk    *Trunk
	trunkOut trunkSender
	limiter  *registerLimiter
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	ln       net.Listener
	trunkLn  net.Listener
	shutdown bool
}

// NewServer creates the signaling server. dir may be nil to disable the
// persistent extension directory.
func NewServer(cfg *config.Config, dir database.ExtensionDirectory, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     registry.New(),
		dir:     dir,
		limiter: newRegisterLimiter(),
		logger:  logger.With("component", "pbx"),
	}
	s.trunk = NewTrunk(cfg.TrunkPeer, cfg.TrunkRetry, s, s.logger)
	s.trunkOut = s.trunk
	return s
}

// Registry exposes the endpoint registry for the ops API and metrics.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// TrunkStatus reports the outbound trunk link state.
func (s *Server) TrunkStatus() LinkStatus {
	return s.trunk.Status()
}

// Start opens the endpoint listener, the inbound trunk listener (if
// configured) and the outbound trunk dialer. It returns once all listeners
// are bound; the accept loops run until Stop or context cancellation.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf(":%d", s.cfg.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for endpoints on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("endpoint listener starting", "addr", addr)
		s.acceptLoop(ctx, ln)
	}()

	if s.cfg.TrunkListenPort > 0 {
		trunkAddr := fmt.Sprintf(":%d", s.cfg.TrunkListenPort)
		trunkLn, err := net.Listen("tcp", trunkAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listening for trunk on %s: %w", trunkAddr, err)
		}
		s.mu.Lock()
		s.trunkLn = trunkLn
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("inbound trunk listener starting", "addr", trunkAddr)
			s.trunk.serveInbound(ctx, trunkLn)
		}()
	}

	if s.cfg.TrunkPeer != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.trunk.dialLoop(ctx)
		}()
	}

	return nil
}

// Stop closes all listeners and waits for connection handlers to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	s.shutdown = true
	if s.ln != nil {
		s.ln.Close()
	}
	if s.trunkLn != nil {
		s.trunkLn.Close()
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.trunk.Close()
	s.wg.Wait()
}

// acceptLoop runs one goroutine per accepted endpoint connection.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.shutdown
			s.mu.Unlock()
			if closing || ctx.Err() != nil {
				return
			}
			s.logger.Error("endpoint accept failed", "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// connSender adapts a connection's encoder to the registry Sender interface.
type connSender struct {
	enc *wire.Encoder
}

func (c *connSender) Send(msg wire.Message) error {
	return c.enc.Encode(msg)
}

// handleConn is the per-connection message pump. It decodes line-delimited
// messages into typed events and dispatches them. A connection with no prior
// register is inert for everything except register itself.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("conn_id", connID, "remote_addr", remote)
	logger.Debug("endpoint connected")

	sender := &connSender{enc: wire.NewEncoder(conn)}
	dec := wire.NewDecoder(conn)

	// Close the connection when the server shuts down so the blocked read
	// below unblocks.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var ext string
	defer func() {
		if ext != "" {
			s.reg.Remove(ext)
			logger.Info("extension disconnected", "extension", ext)
		} else {
			logger.Debug("endpoint disconnected")
		}
	}()

	for {
		msg, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("endpoint read ended", "error", err)
			}
			return
		}

		switch msg.Type {
		case wire.TypeRegister:
			if msg.Extension == "" {
				_ = sender.Send(wire.Error("missing extension"))
				continue
			}
			if !s.limiter.allow(remote) {
				_ = sender.Send(wire.Error("too many registration attempts"))
				logger.Warn("register rate limited", "extension", msg.Extension)
				continue
			}
			ext = msg.Extension
			s.reg.Register(ext, sender)
			s.recordRegistration(ext, remote)
			_ = sender.Send(wire.RegisterOK(ext))
			logger.Info("extension registered", "extension", ext)

		case wire.TypeCall, wire.TypeIVR:
			if ext == "" {
				continue
			}
			s.route(ext, msg.To)

		case wire.TypeAnswer:
			if ext == "" {
				continue
			}
			s.answer(ext)

		case wire.TypeHangup:
			if ext == "" {
				continue
			}
			s.hangup(ext)

		case wire.TypeIVRChoice:
			if ext == "" {
				continue
			}
			s.ivrChoose(ext, msg.Digit)

		case wire.TypeChat:
			// Empty chat text is dropped without acknowledgment.
			if ext == "" || msg.Text == "" {
				continue
			}
			s.chat(ext, msg.Text)

		default:
			logger.Debug("unknown message type", "type", msg.Type)
		}
	}
}

// recordRegistration upserts the extension into the persistent directory.
// Directory failures are logged, never surfaced to the endpoint.
func (s *Server) recordRegistration(ext, remote string) {
	if s.dir == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.dir.RecordRegistration(ctx, ext, remote); err != nil {
		s.logger.Error("failed to record registration", "extension", ext, "error", err)
	}
}

// emit delivers msg to the registered session for ext. An absent session or
// a failed write is swallowed: there is no connection to report it to.
func (s *Server) emit(ext string, msg wire.Message) {
	sess, ok := s.reg.Lookup(ext)
	if !ok {
		return
	}
	if err := sess.Send(msg); err != nil {
		s.logger.Debug("endpoint send failed", "extension", ext, "type", msg.Type, "error", err)
	}
}
