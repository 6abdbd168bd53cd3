package replicate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/revsync/internal/ir"
)

// Run replicates continuously: one session, then a pause of the poll
// interval, until ctx is cancelled. A session that failed with a retryable
// error is followed by an exponentially growing pause instead; any other
// failure (checkpoint regression, for one) stops Run and is returned.
//
// Run returns ctx.Err() when cancelled.
func (r *Replicator) Run(ctx context.Context) error {
	b := r.newBackOff()
	for {
		_, err := r.Replicate(ctx)

		wait := r.pollInterval
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ir.IsRetryable(err) {
				return err
			}
			wait = b.NextBackOff()
			r.logger.Info("replication will retry", "delay", wait)
		} else {
			b.Reset()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Bidirectional runs a pull and a push session concurrently and returns both
// summaries. The sessions are independent: a failure of one does not cancel
// the other. The returned error is the first session error, if any.
func Bidirectional(ctx context.Context, pull, push *Replicator) (pullSummary, pushSummary Summary, err error) {
	var g errgroup.Group
	g.Go(func() error {
		var err error
		pullSummary, err = pull.Replicate(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		pushSummary, err = push.Replicate(ctx)
		return err
	})
	err = g.Wait()
	return pullSummary, pushSummary, err
}
