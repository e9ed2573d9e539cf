// Package retry runs an operation with exponential backoff and jitter.
//
// It is used for idempotent operations against backing services, such as
// connecting to Redis:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	})
package retry
