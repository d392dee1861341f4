package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// retryOnce runs op and repeats it a single time when it fails with PLATFORM_UNAVAILABLE.
// Only informational sends go through here; deletions are never retried.
func retryOnce(ctx context.Context, delay time.Duration, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), 1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrPlatformUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
