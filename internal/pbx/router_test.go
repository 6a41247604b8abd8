package pbx

import (
	"testing"

	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

func TestRouteLocalCallEstablished(t *testing.T) {
	s, _ := newTestServer(t)
	caller := register(t, s, "5001")
	callee := register(t, s, "5002")

	s.route("5001", "5002")

	msgs := caller.expect(t, wire.TypeCallProceeding)
	if msgs[0].To != "5002" {
		t.Errorf("call_proceeding to = %q, want 5002", msgs[0].To)
	}
	msgs = callee.expect(t, wire.TypeIncomingCall)
	if msgs[0].From != "5001" {
		t.Errorf("incoming_call from = %q, want 5001", msgs[0].From)
	}

	for _, ext := range []string{"5001", "5002"} {
		sess, ok := s.reg.Lookup(ext)
		if !ok || sess.State != registry.StateInCall {
			t.Errorf("%s state = %v, want in_call", ext, sess.State)
		}
	}
}

func TestRouteDialPlanViolation(t *testing.T) {
	s, _ := newTestServer(t)
	caller := register(t, s, "5001")

	tests := []struct {
		name   string
		dialed string
	}{
		{"unknown prefix", "7001"},
		{"empty", ""},
		{"garbage", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.route("5001", tt.dialed)
			msgs := caller.expect(t, wire.TypeError)
			if msgs[0].Reason != reasonDialPlan {
				t.Errorf("reason = %q, want %q", msgs[0].Reason, reasonDialPlan)
			}
		})
	}
}

func TestRouteCalleeNotRegistered(t *testing.T) {
	s, _ := newTestServer(t)
	caller := register(t, s, "5001")

	s.route("5001", "5002")

	msgs := caller.expect(t, wire.TypeError)
	if msgs[0].Reason != reasonNotRegistered {
		t.Errorf("reason = %q, want %q", msgs[0].Reason, reasonNotRegistered)
	}
	if sess, _ := s.reg.Lookup("5001"); sess.State != registry.StateIdle {
		t.Errorf("caller state = %v, want idle after rejected call", sess.State)
	}
}

func TestRouteCallerAlreadyInCall(t *testing.T) {
	s, _ := newTestServer(t)
	caller := register(t, s, "5001")
	register(t, s, "5002")
	register(t, s, "5003")

	s.route("5001", "5002")
	caller.take()

	s.route("5001", "5003")

	msgs := caller.expect(t, wire.TypeError)
	if msgs[0].Reason != reasonCallerBusy {
		t.Errorf("reason = %q, want %q", msgs[0].Reason, reasonCallerBusy)
	}
	if sess, _ := s.reg.Lookup("5001"); sess.Peer != "5002" {
		t.Errorf("caller peer = %q, want 5002 unchanged", sess.Peer)
	}
}

func TestRouteCalleeBusyCallWaiting(t *testing.T) {
	s, _ := newTestServer(t)
	register(t, s, "5001")
	callee := register(t, s, "5002")
	late := register(t, s, "5003")

	s.route("5001", "5002")
	callee.take()

	s.route("5003", "5002")

	msgs := late.expect(t, wire.TypeBusy)
	if msgs[0].To != "5002" {
		t.Errorf("busy to = %q, want 5002", msgs[0].To)
	}
	msgs = callee.expect(t, wire.TypeIncomingCallWaiting)
	if msgs[0].From != "5003" {
		t.Errorf("incoming_call_waiting from = %q, want 5003", msgs[0].From)
	}

	// Nothing was queued: the busy callee keeps its original peer and the
	// late caller stays idle.
	if sess, _ := s.reg.Lookup("5002"); sess.Peer != "5001" {
		t.Errorf("callee peer = %q, want 5001", sess.Peer)
	}
	if sess, _ := s.reg.Lookup("5003"); sess.State != registry.StateIdle {
		t.Errorf("late caller state = %v, want idle", sess.State)
	}
}

func TestRouteCallerAbsentSilent(t *testing.T) {
	s, rt := newTestServer(t)
	callee := register(t, s, "5002")

	// A call from an unregistered extension goes nowhere.
	s.route("5001", "5002")

	if msgs := callee.take(); len(msgs) != 0 {
		t.Errorf("callee received %v, want nothing", typesOf(msgs))
	}
	if msgs := rt.take(); len(msgs) != 0 {
		t.Errorf("trunk received %v, want nothing", typesOf(msgs))
	}
}

func TestRouteTrunkCall(t *testing.T) {
	s, rt := newTestServer(t)
	caller := register(t, s, "5001")

	s.route("5001", "6002")

	msgs := caller.expect(t, wire.TypeCallProceeding)
	if msgs[0].To != "6002" {
		t.Errorf("call_proceeding to = %q, want 6002", msgs[0].To)
	}

	out := rt.take()
	if len(out) != 1 || out[0].Type != wire.TypeTrunkCall {
		t.Fatalf("trunk sent %v, want one trunk_call", typesOf(out))
	}
	if out[0].From != "5001" || out[0].To != "6002" {
		t.Errorf("trunk_call from/to = %q/%q, want 5001/6002", out[0].From, out[0].To)
	}

	sess, _ := s.reg.Lookup("5001")
	if sess.State != registry.StateInCall || !sess.RemotePeer || sess.Peer != "6002" {
		t.Errorf("caller session = %+v, want in_call with remote peer 6002", sess)
	}
}

func TestRouteTrunkCallerBusy(t *testing.T) {
	s, rt := newTestServer(t)
	caller := register(t, s, "5001")
	register(t, s, "5002")

	s.route("5001", "5002")
	caller.take()

	s.route("5001", "6002")

	msgs := caller.expect(t, wire.TypeError)
	if msgs[0].Reason != reasonCallerBusy {
		t.Errorf("reason = %q, want %q", msgs[0].Reason, reasonCallerBusy)
	}
	if msgs := rt.take(); len(msgs) != 0 {
		t.Errorf("trunk sent %v, want nothing for a rejected caller", typesOf(msgs))
	}
}

func TestRouteRemoteIVRRejected(t *testing.T) {
	s, rt := newTestServer(t)
	caller := register(t, s, "5001")

	s.route("5001", "6000")

	msgs := caller.expect(t, wire.TypeError)
	if msgs[0].Reason != reasonRemoteIVR {
		t.Errorf("reason = %q, want %q", msgs[0].Reason, reasonRemoteIVR)
	}
	if msgs := rt.take(); len(msgs) != 0 {
		t.Errorf("trunk sent %v, want nothing", typesOf(msgs))
	}
	if sess, _ := s.reg.Lookup("5001"); sess.State != registry.StateIdle {
		t.Errorf("caller state = %v, want idle", sess.State)
	}
}

func TestRouteIVRExtMatchedBeforePrefix(t *testing.T) {
	s, _ := newTestServer(t)
	caller := register(t, s, "5001")

	// 5000 sits inside the local prefix range but is the IVR number.
	s.route("5001", "5000")

	msgs := caller.expect(t, wire.TypeIVRMessage)
	if msgs[0].Text == "" {
		t.Error("ivr_message text is empty, want menu")
	}
}
