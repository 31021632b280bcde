package session

import "sshexec/internal/errors"

// Loop runs the event loop: every pass prunes closed channels, stops
// if keepGoing returns false, then reads whatever each live channel
// has.  Callbacks run inline on the calling goroutine.
//
// A channel that reached end of stream is finished with Wait, so its
// exit status callback fires and the next pass prunes it.  A pass that
// delivered nothing parks in the readiness waiter.
//
// A nil keepGoing runs until no live channels remain.  Loop also
// returns once no channel is executing, since nothing could wake it:
// with nil when no channels are left, and with an ErrorBadUse engine
// error when the only live channels were opened but never executed.
func (s *Session) Loop(keepGoing func() bool) error {
	if keepGoing == nil {
		keepGoing = func() bool { return len(s.channels) > 0 }
	}
	for {
		s.prune()
		if !keepGoing() {
			return nil
		}

		progress, active := false, 0
		for _, ch := range s.Channels() {
			if ch.closed || ch.state == Open {
				continue
			}
			active++
			n, more, err := ch.attemptRead()
			if err != nil {
				return err
			}
			if n > 0 {
				progress = true
			}
			if !more {
				if err := ch.Wait(); err != nil {
					return err
				}
				progress = true
			}
		}

		if active == 0 {
			if idle := len(s.channels); idle > 0 {
				return errors.Engine("loop", errors.ErrorBadUse, "%d channel(s) opened but never executed", idle)
			}
			return nil
		}
		if !progress {
			if err := s.adapter.Park(); err != nil {
				return err
			}
		}
	}
}
