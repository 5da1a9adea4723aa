package reconciler

import (
	"context"
	"fmt"

	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

// EventSource is the streaming side of the ledger gateway.
type EventSource interface {
	StreamEvents(ctx context.Context, handler ledger.EventHandler) error
}

// Listener consumes the ledger's event stream and folds each event into the
// record store through the reconciler. It runs as a long-lived task; the
// stream itself handles reconnect backoff and cursor redelivery.
type Listener struct {
	reconciler *Reconciler
	source     EventSource
	logg       *logger.Logger
}

// NewListener wires the reconciler to an event source.
func NewListener(rec *Reconciler, source EventSource, logg *logger.Logger) (*Listener, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if source == nil {
		return nil, fmt.Errorf("event source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Listener{reconciler: rec, source: source, logg: logg}, nil
}

// Run blocks consuming events until the context is canceled. A handler error
// leaves the stream cursor in place, so the failed event is redelivered.
func (l *Listener) Run(ctx context.Context) error {
	l.logg.Info(ctx, "reconciler event listener starting")
	return l.source.StreamEvents(ctx, l.reconciler.ApplyEvent)
}
