package pbx

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/linepbx/linepbx/internal/config"
	"github.com/linepbx/linepbx/internal/wire"
)

// Shared test fixtures for the pbx package.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordSender captures messages delivered to one endpoint session.
type recordSender struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (r *recordSender) Send(msg wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

// take drains and returns everything captured so far.
func (r *recordSender) take() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

// expect drains the captured messages and fails unless their types match
// wantTypes in order. It returns the drained messages for field checks.
func (r *recordSender) expect(t *testing.T, wantTypes ...string) []wire.Message {
	t.Helper()
	msgs := r.take()
	if len(msgs) != len(wantTypes) {
		t.Fatalf("got %d messages %v, want types %v", len(msgs), typesOf(msgs), wantTypes)
	}
	for i, want := range wantTypes {
		if msgs[i].Type != want {
			t.Fatalf("message %d type = %q, want %q (all: %v)", i, msgs[i].Type, want, typesOf(msgs))
		}
	}
	return msgs
}

func typesOf(msgs []wire.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

// recordTrunk captures outbound trunk messages instead of sending them.
type recordTrunk struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (r *recordTrunk) Send(msg wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordTrunk) take() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

// loopTrunk delivers outbound trunk messages straight into the sibling
// server's inbound handler, standing in for the TCP link.
type loopTrunk struct {
	peer *Server
}

func (l *loopTrunk) Send(msg wire.Message) {
	l.peer.HandleTrunkMessage(msg)
}

func testConfig(node, localPrefix, remotePrefix string) *config.Config {
	cfg := &config.Config{
		NodeName:    node,
		ListenPort:  5070,
		HTTPPort:    8080,
		LocalPrefix: localPrefix,
		ExtLen:      4,
		TrunkRetry:  time.Second,
		LogLevel:    "info",
		LogFormat:   "text",
	}
	cfg.IVRExt = localPrefix + "00"
	if remotePrefix != "" {
		cfg.RemotePrefix = remotePrefix
		cfg.RemoteIVRExt = remotePrefix + "00"
	}
	return cfg
}

// newTestServer builds a server for node "alpha" owning prefix 50, with
// prefix 60 routed to the trunk. The outbound trunk is replaced with a
// capture.
func newTestServer(t *testing.T) (*Server, *recordTrunk) {
	t.Helper()
	s := NewServer(testConfig("alpha", "50", "60"), nil, discardLogger())
	rt := &recordTrunk{}
	s.trunkOut = rt
	return s, rt
}

// newNodePair builds two servers with mirrored prefixes whose trunk sends
// loop synchronously into each other.
func newNodePair(t *testing.T) (*Server, *Server) {
	t.Helper()
	a := NewServer(testConfig("alpha", "50", "60"), nil, discardLogger())
	b := NewServer(testConfig("beta", "60", "50"), nil, discardLogger())
	a.trunkOut = &loopTrunk{peer: b}
	b.trunkOut = &loopTrunk{peer: a}
	return a, b
}

// register installs an extension with a capturing sender and returns the
// capture.
func register(t *testing.T, s *Server, ext string) *recordSender {
	t.Helper()
	rs := &recordSender{}
	s.reg.Register(ext, rs)
	return rs
}
