package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// Confirmation polling defaults
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultWaitTimeout  = 60 * time.Second
)

// WaitForCallsStatus polls the bundle status at a constant interval until it settles.
// Transport errors are retried until the timeout; relay errors end the wait. A failed
// bundle returns ErrCallsFailed with the final status and running out of time returns
// ErrConfirmationTimeout.
func WaitForCallsStatus(ctx context.Context, client Client, id string, interval, timeout time.Duration) (*types.CallsStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var final *types.CallsStatus
	operation := func() error {
		status, err := client.GetCallsStatus(waitCtx, id)
		if err != nil {
			var execErr *ExecutionError
			if errors.As(err, &execErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		if status.Pending() {
			return errPending
		}
		final = status
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errPending) || errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			return nil, apperrors.ErrConfirmationTimeout.WithDetail(fmt.Sprintf("bundle %s", id))
		}
		return nil, err
	}

	if !final.Confirmed() {
		return final, apperrors.ErrCallsFailed.WithDetail(fmt.Sprintf("bundle %s status %d", id, final.Status))
	}
	return final, nil
}

var errPending = errors.New("bundle pending")
