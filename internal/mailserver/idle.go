package mailserver

import (
	"context"
	"fmt"
	"time"
)

// Idle waits in IMAP IDLE until the server reports a mailbox change, renew
// elapses or ctx is done. It reports whether a change was seen. Bursts of
// changes arriving during one wait are reported once.
func (s *Session) Idle(ctx context.Context, renew time.Duration) (bool, error) {
	cmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("start idle: %w", err)
	}

	timer := time.NewTimer(renew)
	defer timer.Stop()

	changed := false
	select {
	case <-s.updates:
		changed = true
	case <-timer.C:
	case <-ctx.Done():
	case <-s.client.Closed():
		return false, ErrConnectionClosed
	}

	if err := cmd.Close(); err != nil {
		return changed, fmt.Errorf("stop idle: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return changed, fmt.Errorf("idle: %w", err)
	}
	s.touch()
	if err := ctx.Err(); err != nil {
		return changed, err
	}
	for {
		select {
		case <-s.updates:
			changed = true
		default:
			return changed, nil
		}
	}
}
