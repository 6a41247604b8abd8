package pbx

import (
	"strings"

	"github.com/google/uuid"
	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

// Endpoint-visible rejection reasons. The IDLE/registered preconditions for
// local and trunk calls are evaluated inside the registry so the check and
// the state change are one atomic step.
const (
	reasonDialPlan      = "dial plan violation"
	reasonCallerBusy    = "cannot start a new call while already in a call"
	reasonIVRBusy       = "cannot start IVR while in a call"
	reasonRemoteIVR     = "cross-node IVR calls are not permitted"
	reasonNotRegistered = "extension not registered"
	reasonNoCall        = "no active call to answer"
	reasonNoIVR         = "no active IVR session"
	reasonBadIVRDigit   = "invalid IVR selection"
	reasonNoChat        = "cannot send chat while not in a call"
	reasonPeerGone      = "peer no longer available"
)

// route evaluates the dial plan for a call from caller to dialed and
// dispatches to the IVR, local call handling or trunk call handling. The IVR
// numbers are matched before the prefixes because they live inside the
// prefix ranges.
func (s *Server) route(caller, dialed string) {
	switch {
	case dialed == s.cfg.IVRExt:
		s.startIVR(caller)
	case s.cfg.RemoteIVRExt != "" && dialed == s.cfg.RemoteIVRExt:
		s.emit(caller, wire.Error(reasonRemoteIVR))
	case strings.HasPrefix(dialed, s.cfg.LocalPrefix):
		s.initiateLocal(caller, dialed)
	case s.cfg.RemotePrefix != "" && strings.HasPrefix(dialed, s.cfg.RemotePrefix):
		s.initiateTrunkCall(caller, dialed)
	default:
		s.emit(caller, wire.Error(reasonDialPlan))
	}
}

// initiateLocal attempts to establish a call between two extensions on this
// node. Establishment is the only way a call comes into being; there is no
// separate ringing state, and acceptance is signalled later by answer as a
// pure notification.
func (s *Server) initiateLocal(caller, callee string) {
	callID := uuid.NewString()
	outcome, calleeSess := s.reg.EstablishPair(caller, callee, callID)
	switch outcome {
	case registry.CallerAbsent:
		// No session means no connection to answer on.
	case registry.CallerBusy:
		s.emit(caller, wire.Error(reasonCallerBusy))
	case registry.CalleeAbsent:
		s.emit(caller, wire.Error(reasonNotRegistered))
	case registry.CalleeBusy:
		// Call waiting is informational only: nothing is queued and the
		// caller has to retry.
		s.emit(caller, wire.Busy(callee))
		if err := calleeSess.Send(wire.IncomingCallWaiting(caller)); err != nil {
			s.logger.Debug("call waiting notice failed", "extension", callee, "error", err)
		}
	case registry.Established:
		s.emit(callee, wire.IncomingCall(caller))
		s.emit(caller, wire.CallProceeding(callee))
		s.logger.Info("local call established",
			"call_id", callID,
			"from", caller,
			"to", callee,
		)
	}
}

// initiateTrunkCall commits the caller to a cross-node call before the
// sibling has confirmed anything. If the remote callee turns out absent or
// busy, the sibling replies trunk_busy and handleTrunkBusy rolls the caller
// back to idle.
func (s *Server) initiateTrunkCall(caller, callee string) {
	callID := uuid.NewString()
	switch s.reg.BeginRemoteCall(caller, callee, callID) {
	case registry.CallerAbsent:
	case registry.CallerBusy:
		s.emit(caller, wire.Error(reasonCallerBusy))
	case registry.Established:
		s.trunkOut.Send(wire.TrunkCall(caller, callee))
		s.emit(caller, wire.CallProceeding(callee))
		s.logger.Info("trunk call initiated",
			"call_id", callID,
			"from", caller,
			"to", callee,
		)
	}
}
