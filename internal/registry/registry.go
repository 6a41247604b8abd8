// Package registry is the single source of truth for endpoint call state.
// Every session mutation that must appear atomic to concurrent endpoint
// handlers (in particular the dual-session update when a local call is
// established or torn down) is a single method executed under one lock.
package registry

import (
	"sort"
	"sync"

	"github.com/linepbx/linepbx/internal/wire"
)

// State is the call state of a registered endpoint.
type State string

const (
	StateIdle   State = "idle"
	StateInCall State = "in_call"
)

// Sender delivers a wire message to an endpoint's connection. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(msg wire.Message) error
}

// Session is the live record for one registered extension. Peer is set if
// and only if State is StateInCall. RemotePeer marks a peer reachable only
// via the trunk link; the peer's authoritative state then lives on the
// sibling node, not here.
type Session struct {
	Extension  string `json:"extension"`
	State      State  `json:"state"`
	Peer       string `json:"peer,omitempty"`
	RemotePeer bool   `json:"remote_peer,omitempty"`
	CallID     string `json:"call_id,omitempty"`

	sender Sender
}

// Send delivers msg to the session's endpoint. Delivery failure is returned
// to the caller, which by protocol convention swallows it.
func (s Session) Send(msg wire.Message) error {
	if s.sender == nil {
		return nil
	}
	return s.sender.Send(msg)
}

// Call describes one active call from this node's point of view. For a local
// call both parties are filled in; for a cross-node call Remote is true and
// Peer names the extension on the sibling node.
type Call struct {
	ID        string `json:"id"`
	Extension string `json:"extension"`
	Peer      string `json:"peer"`
	Remote    bool   `json:"remote"`
}

// Outcome is the result of a call-establishment attempt against the registry.
type Outcome int

const (
	// Established: the requested state change was applied.
	Established Outcome = iota
	// CallerAbsent: the caller has no session; the attempt is silently dropped.
	CallerAbsent
	// CallerBusy: the caller is already in a call; nothing changed.
	CallerBusy
	// CalleeAbsent: the dialed extension has no session; nothing changed.
	CalleeAbsent
	// CalleeBusy: the dialed extension is in a call; nothing changed.
	CalleeBusy
)

// Registry holds all endpoint sessions and the set of extensions with an
// active IVR menu. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ivr      map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ivr:      make(map[string]struct{}),
	}
}

// Register installs or replaces the session for ext. The new session is
// always idle with no peer: re-registration never merges prior call state.
// Any pending IVR menu for ext is discarded.
func (r *Registry) Register(ext string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[ext] = &Session{Extension: ext, State: StateIdle, sender: sender}
	delete(r.ivr, ext)
}

// Remove deletes the session and any IVR marker for ext. Used on endpoint
// disconnect. The in-call peer, if any, is deliberately left untouched.
func (r *Registry) Remove(ext string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, ext)
	delete(r.ivr, ext)
}

// Lookup returns a snapshot of the session for ext.
func (r *Registry) Lookup(ext string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[ext]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// EstablishPair atomically places caller and callee into a local call with
// mutual peer references. All preconditions (caller registered and idle,
// callee registered and idle) are evaluated under the same lock as the
// update, so a concurrent hangup or competing call attempt can never observe
// a half-updated pair. On CalleeBusy the returned snapshot is the callee's
// current session so the caller can deliver a call-waiting notice.
func (r *Registry) EstablishPair(caller, callee, callID string) (Outcome, Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.sessions[caller]
	if !ok {
		return CallerAbsent, Session{}
	}
	if from.State != StateIdle {
		return CallerBusy, Session{}
	}
	to, ok := r.sessions[callee]
	if !ok {
		return CalleeAbsent, Session{}
	}
	if to.State != StateIdle {
		return CalleeBusy, *to
	}

	from.State = StateInCall
	from.Peer = callee
	from.RemotePeer = false
	from.CallID = callID
	to.State = StateInCall
	to.Peer = caller
	to.RemotePeer = false
	to.CallID = callID
	return Established, *to
}

// BeginRemoteCall optimistically commits caller to a cross-node call before
// the sibling node has confirmed anything. Possible outcomes are limited to
// Established, CallerAbsent and CallerBusy; rejection by the remote side is
// rolled back later via SetIdle when a trunk busy message arrives.
func (r *Registry) BeginRemoteCall(caller, remote, callID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[caller]
	if !ok {
		return CallerAbsent
	}
	if sess.State != StateIdle {
		return CallerBusy
	}
	sess.State = StateInCall
	sess.Peer = remote
	sess.RemotePeer = true
	sess.CallID = callID
	return Established
}

// AcceptRemoteCall handles an inbound trunk call for local extension callee
// from remoteCaller on the sibling node. On CalleeBusy the returned snapshot
// is the callee's current session for call-waiting notification.
func (r *Registry) AcceptRemoteCall(callee, remoteCaller, callID string) (Outcome, Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[callee]
	if !ok {
		return CalleeAbsent, Session{}
	}
	if sess.State != StateIdle {
		return CalleeBusy, *sess
	}
	sess.State = StateInCall
	sess.Peer = remoteCaller
	sess.RemotePeer = true
	sess.CallID = callID
	return Established, *sess
}

// HangupResult reports what Hangup tore down.
type HangupResult struct {
	// HadCall is false when the extension was absent or idle (silent no-op).
	HadCall bool
	// Peer is the other party's extension.
	Peer string
	// RemotePeer marks a peer on the sibling node; its state was not touched.
	RemotePeer bool
	// PeerPresent reports whether a local peer session existed and was
	// returned to idle. PeerSession is its snapshot after the update.
	PeerPresent bool
	PeerSession Session
}

// Hangup returns ext to idle and, for a local call, atomically returns the
// peer to idle as well. A remote peer is left untouched: its own node owns
// that state and is informed over the trunk. Any IVR marker for ext is
// cleared regardless of call state.
func (r *Registry) Hangup(ext string) HangupResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ivr, ext)

	sess, ok := r.sessions[ext]
	if !ok || sess.State != StateInCall {
		return HangupResult{}
	}

	res := HangupResult{HadCall: true, Peer: sess.Peer, RemotePeer: sess.RemotePeer}
	sess.State = StateIdle
	sess.Peer = ""
	sess.RemotePeer = false
	sess.CallID = ""

	if !res.RemotePeer {
		if peer, ok := r.sessions[res.Peer]; ok {
			peer.State = StateIdle
			peer.Peer = ""
			peer.RemotePeer = false
			peer.CallID = ""
			res.PeerPresent = true
			res.PeerSession = *peer
		}
	}
	return res
}

// SetIdle unconditionally returns ext to idle with peer cleared. Used for
// trunk-driven teardown: busy rollback and remote hangup.
func (r *Registry) SetIdle(ext string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[ext]
	if !ok {
		return false
	}
	sess.State = StateIdle
	sess.Peer = ""
	sess.RemotePeer = false
	sess.CallID = ""
	return true
}

// StartIVR marks ext as having an active IVR menu. The idle precondition is
// checked by the caller before the menu is offered.
func (r *Registry) StartIVR(ext string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ivr[ext] = struct{}{}
}

// ConsumeIVR removes the IVR marker for ext and reports whether one existed.
// The marker is single use: it is consumed by the first digit regardless of
// the digit's validity.
func (r *Registry) ConsumeIVR(ext string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ivr[ext]
	delete(r.ivr, ext)
	return ok
}

// Sessions returns a snapshot of all sessions, ordered by extension.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// Calls returns a snapshot of active calls. A local call appears once even
// though two sessions reference it; a cross-node call appears once per node.
func (r *Registry) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var out []Call
	for _, sess := range r.sessions {
		if sess.State != StateInCall {
			continue
		}
		if _, dup := seen[sess.CallID]; dup {
			continue
		}
		seen[sess.CallID] = struct{}{}
		out = append(out, Call{
			ID:        sess.CallID,
			Extension: sess.Extension,
			Peer:      sess.Peer,
			Remote:    sess.RemotePeer,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// EndpointCount returns the number of registered endpoints.
func (r *Registry) EndpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveCallCount returns the number of distinct active calls on this node.
func (r *Registry) ActiveCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, sess := range r.sessions {
		if sess.State == StateInCall {
			seen[sess.CallID] = struct{}{}
		}
	}
	return len(seen)
}
