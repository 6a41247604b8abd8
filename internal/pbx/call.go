package pbx

import (
	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

// answer confirms an established call. It is a pure notification: the call
// was already IN_CALL since establishment, so answering never changes state
// and may be repeated without error. Both parties receive the confirmation
// naming the answering extension.
func (s *Server) answer(ext string) {
	sess, ok := s.reg.Lookup(ext)
	if !ok {
		return
	}
	if sess.State != registry.StateInCall || sess.Peer == "" {
		s.emit(ext, wire.Error(reasonNoCall))
		return
	}

	if sess.RemotePeer {
		s.trunkOut.Send(wire.TrunkCallAnswered(ext, sess.Peer))
	} else {
		s.emit(sess.Peer, wire.CallAnswered(ext))
	}
	s.emit(ext, wire.CallAnswered(ext))
}

// hangup tears down ext's side of a call. For a local call both parties are
// returned to idle atomically and the peer is notified. For a cross-node
// call only the local side changes: the sibling node owns the peer's state
// and updates it when the trunk hangup arrives. Hangup while idle is a
// silent no-op (any pending IVR menu is still discarded).
func (s *Server) hangup(ext string) {
	res := s.reg.Hangup(ext)
	if !res.HadCall {
		return
	}

	if res.RemotePeer {
		s.trunkOut.Send(wire.TrunkHangup(ext, res.Peer))
	} else if res.PeerPresent {
		if err := res.PeerSession.Send(wire.Hangup(ext)); err != nil {
			s.logger.Debug("hangup notice failed", "extension", res.Peer, "error", err)
		}
	}
	s.emit(ext, wire.Hangup(ext))
	s.logger.Info("call ended", "by", ext, "peer", res.Peer, "remote_peer", res.RemotePeer)
}

// chat relays a text line to the in-call peer, tagged with the sender. The
// sender gets an acknowledgment naming the recipient.
func (s *Server) chat(ext, text string) {
	sess, ok := s.reg.Lookup(ext)
	if !ok {
		return
	}
	if sess.State != registry.StateInCall || sess.Peer == "" {
		s.emit(ext, wire.Error(reasonNoChat))
		return
	}

	if sess.RemotePeer {
		s.trunkOut.Send(wire.TrunkChat(ext, sess.Peer, text))
		s.emit(ext, wire.ChatSent(sess.Peer))
		return
	}

	peer, ok := s.reg.Lookup(sess.Peer)
	if !ok {
		s.emit(ext, wire.Error(reasonPeerGone))
		return
	}
	if err := peer.Send(wire.Chat(ext, text)); err != nil {
		s.logger.Debug("chat relay failed", "from", ext, "to", sess.Peer, "error", err)
	}
	s.emit(ext, wire.ChatSent(sess.Peer))
}
