package pbx

import (
	"fmt"
	"strings"

	"github.com/linepbx/linepbx/internal/registry"
	"github.com/linepbx/linepbx/internal/wire"
)

// startIVR offers the menu to an idle extension and marks its single-use
// session. Dialing the IVR while in a call is rejected without state change.
func (s *Server) startIVR(ext string) {
	sess, ok := s.reg.Lookup(ext)
	if !ok {
		return
	}
	if sess.State != registry.StateIdle {
		s.emit(ext, wire.Error(reasonIVRBusy))
		return
	}

	s.reg.StartIVR(ext)
	s.emit(ext, wire.IVRMessage(s.menuText()))
	s.logger.Debug("ivr session started", "extension", ext)
}

// ivrChoose processes the first digit after a menu. The session marker is
// consumed unconditionally, valid digit or not: a second choice requires
// dialing the IVR again.
func (s *Server) ivrChoose(ext, digit string) {
	if !s.reg.ConsumeIVR(ext) {
		s.emit(ext, wire.Error(reasonNoIVR))
		return
	}

	sess, ok := s.reg.Lookup(ext)
	if !ok {
		return
	}
	// The extension may have raced into a call since the menu was offered.
	if sess.State != registry.StateIdle {
		s.emit(ext, wire.Error(reasonCallerBusy))
		return
	}

	switch {
	case digit == "0":
		s.emit(ext, wire.IVRInfo(fmt.Sprintf(
			"Exchange %s operates Monday-Friday 09:00-17:00.", s.cfg.NodeName)))
	case len(digit) == 1 && digit[0] >= '1' && digit[0] <= '9':
		// Routed like any dialed call, so the derived extension is still
		// subject to the registered/idle/busy rules.
		s.route(ext, s.cfg.DerivedExt(digit))
	default:
		s.emit(ext, wire.Error(reasonBadIVRDigit))
	}
}

// menuText renders the IVR menu: digit 0 for information, digits 1-9 mapped
// to the derived local extensions.
func (s *Server) menuText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to exchange %s.\n", s.cfg.NodeName)
	b.WriteString("Press 0 for information.\n")
	for d := '1'; d <= '9'; d++ {
		digit := string(d)
		fmt.Fprintf(&b, "Press %s to connect to %s.\n", digit, s.cfg.DerivedExt(digit))
	}
	return b.String()
}
