package versions

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// RetryPolicy bounds how long a snapshot write is retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy retries for up to a minute.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxElapsedTime:  time.Minute,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// PutWithRetry writes snap, retrying with exponential backoff, and returns
// the snapshot as stored. When the key is taken the next free SeqKey is
// used, so snapshots in the same millisecond are all kept. notify is called
// with each failed attempt's error and may be nil.
func PutWithRetry(ctx context.Context, store Store, snap Snapshot, policy RetryPolicy, notify func(error, time.Duration)) (Snapshot, error) {
	base, seq := snap.Key, 0
	op := func() error {
		for {
			err := store.Put(ctx, snap)
			if errors.Cause(err) != ErrExists {
				return err
			}
			if seq++; seq > maxKeySeq {
				return backoff.Permanent(errors.Wrapf(err, "no free key after %s", base))
			}
			snap.Key = SeqKey(base, seq)
		}
	}
	if notify == nil {
		notify = func(error, time.Duration) {}
	}
	err := backoff.RetryNotify(op, policy.backOff(ctx), notify)
	return snap, err
}
