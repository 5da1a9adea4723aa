package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
)

// EventHandler consumes one contract event. Returning an error leaves the
// cursor in place so the event is redelivered on the next poll.
type EventHandler func(ctx context.Context, event Event) error

// StreamEvents polls the contract's event log from the current head minus the
// configured lookback and hands each event to the handler in block order. It
// blocks until ctx is canceled; transient node failures back off and resume
// from the last delivered cursor instead of stopping the stream.
func (c *Client) StreamEvents(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "event handler is required")
	}
	if !c.Ready() {
		return errClientNotReady
	}

	cursor, err := c.initialCursor(ctx)
	if err != nil {
		return err
	}

	logCtx := c.logg.WithField(ctx, "from_block", cursor)
	c.logg.Info(logCtx, "ledger event stream started")

	ticker := time.NewTicker(c.eventPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logg.Info(ctx, "ledger event stream stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		next, err := c.deliverFrom(ctx, cursor, handler)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"cursor": cursor,
				"error":  err.Error(),
			}), "ledger event poll failed; will retry")
			continue
		}
		cursor = next
	}
}

// initialCursor resolves the starting block: head minus lookback, saturating
// at zero. Node failures at startup retry with backoff rather than aborting,
// so a restarting worker does not flap on a briefly unreachable node.
func (c *Client) initialCursor(ctx context.Context) (uint64, error) {
	var head uint64
	backoff := retry.WithMaxDuration(2*time.Minute, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := c.BlockNumber(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		head = current
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve event stream cursor")
	}
	if head < c.eventLookback {
		return 0, nil
	}
	return head - c.eventLookback, nil
}

// deliverFrom fetches events past the cursor and hands them off in order.
// A block can carry several events, so the cursor only moves past a block
// once every event in it has been handled; a handler failure re-delivers
// that whole block on the next poll. Delivery is at-least-once and the
// reconciler absorbs duplicates.
func (c *Client) deliverFrom(ctx context.Context, cursor uint64, handler EventHandler) (uint64, error) {
	var events []Event
	if err := c.call(ctx, methodEvents, map[string]any{
		"contract":  c.contractAddress,
		"fromBlock": cursor,
	}, &events); err != nil {
		return cursor, err
	}

	done := cursor
	for _, event := range events {
		if event.BlockNumber <= cursor {
			continue
		}
		// Events arrive in block order, so reaching a new block means every
		// earlier block in the batch is fully handled.
		if event.BlockNumber > done+1 {
			done = event.BlockNumber - 1
		}
		if err := handler(ctx, event); err != nil {
			return done, fmt.Errorf("handle %s event for proof %s: %w", event.Kind, event.ProofHash, err)
		}
	}
	if len(events) > 0 {
		if last := events[len(events)-1].BlockNumber; last > done {
			done = last
		}
	}
	return done, nil
}
