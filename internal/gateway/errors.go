package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ajramos/orionmail/internal/mailserver"
	"github.com/ajramos/orionmail/internal/services"
)

// classify wraps transport errors with the controller's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, services.ErrSessionInvalid),
		errors.Is(err, services.ErrNetworkUnavailable),
		errors.Is(err, services.ErrTimeout),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, mailserver.ErrAuthFailed):
		return fmt.Errorf("%w: %v", services.ErrSessionInvalid, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", services.ErrTimeout, err)
	case errors.Is(err, mailserver.ErrConnectionClosed):
		return fmt.Errorf("%w: %v", services.ErrNetworkUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", services.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", services.ErrNetworkUnavailable, err)
	}
	return err
}
