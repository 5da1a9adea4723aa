package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDeliverFromAdvancesCursor(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodEvents: func(params json.RawMessage) (any, *rpcError) {
			var args map[string]any
			if err := json.Unmarshal(params, &args); err != nil {
				t.Fatalf("decode params: %v", err)
			}
			if args["fromBlock"].(float64) != 10 {
				t.Fatalf("unexpected fromBlock %v", args["fromBlock"])
			}
			return []Event{
				{Kind: EventKindIssued, ProofHash: "0xa", BlockNumber: 11, TxID: "tx-a"},
				{Kind: EventKindRevoked, ProofHash: "0xb", BlockNumber: 13, TxID: "tx-b"},
			}, nil
		},
	})

	var seen []Event
	cursor, err := client.deliverFrom(context.Background(), 10, func(_ context.Context, event Event) error {
		seen = append(seen, event)
		return nil
	})
	if err != nil {
		t.Fatalf("deliverFrom: %v", err)
	}
	if cursor != 13 {
		t.Fatalf("expected cursor 13, got %d", cursor)
	}
	if len(seen) != 2 || seen[0].ProofHash != "0xa" || seen[1].Kind != EventKindRevoked {
		t.Fatalf("unexpected events %+v", seen)
	}
}

func TestDeliverFromDeliversAllEventsInOneBlock(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodEvents: func(json.RawMessage) (any, *rpcError) {
			return []Event{
				{Kind: EventKindIssued, ProofHash: "0xaaa", BlockNumber: 11, TxID: "tx-1"},
				{Kind: EventKindIssued, ProofHash: "0xbbb", BlockNumber: 11, TxID: "tx-2"},
				{Kind: EventKindRevoked, ProofHash: "0xccc", BlockNumber: 12, TxID: "tx-3"},
			}, nil
		},
	})

	var seen []string
	cursor, err := client.deliverFrom(context.Background(), 10, func(_ context.Context, event Event) error {
		seen = append(seen, event.ProofHash)
		return nil
	})
	if err != nil {
		t.Fatalf("deliverFrom: %v", err)
	}
	if cursor != 12 {
		t.Fatalf("expected cursor 12, got %d", cursor)
	}
	if len(seen) != 3 || seen[0] != "0xaaa" || seen[1] != "0xbbb" || seen[2] != "0xccc" {
		t.Fatalf("expected every event in the block delivered, got %v", seen)
	}
}

func TestDeliverFromRedeliversBlockAfterMidBlockFailure(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodEvents: func(json.RawMessage) (any, *rpcError) {
			return []Event{
				{Kind: EventKindIssued, ProofHash: "0xaaa", BlockNumber: 31, TxID: "tx-1"},
				{Kind: EventKindIssued, ProofHash: "0xbbb", BlockNumber: 31, TxID: "tx-2"},
			}, nil
		},
	})

	handlerErr := errors.New("store offline")
	var seen []string
	cursor, err := client.deliverFrom(context.Background(), 30, func(_ context.Context, event Event) error {
		if event.ProofHash == "0xbbb" {
			return handlerErr
		}
		seen = append(seen, event.ProofHash)
		return nil
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	// The failed event's block is not yet complete; the cursor stays before it
	// so the next poll re-delivers the whole block.
	if cursor != 30 {
		t.Fatalf("expected cursor 30, got %d", cursor)
	}

	seen = nil
	cursor, err = client.deliverFrom(context.Background(), cursor, func(_ context.Context, event Event) error {
		seen = append(seen, event.ProofHash)
		return nil
	})
	if err != nil {
		t.Fatalf("deliverFrom retry: %v", err)
	}
	if cursor != 31 {
		t.Fatalf("expected cursor 31 after retry, got %d", cursor)
	}
	if len(seen) != 2 || seen[0] != "0xaaa" || seen[1] != "0xbbb" {
		t.Fatalf("expected the whole block redelivered, got %v", seen)
	}
}

func TestDeliverFromSkipsAlreadyDelivered(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodEvents: func(json.RawMessage) (any, *rpcError) {
			return []Event{
				{Kind: EventKindIssued, ProofHash: "0xold", BlockNumber: 5},
				{Kind: EventKindIssued, ProofHash: "0xnew", BlockNumber: 6},
			}, nil
		},
	})

	var seen []string
	cursor, err := client.deliverFrom(context.Background(), 5, func(_ context.Context, event Event) error {
		seen = append(seen, event.ProofHash)
		return nil
	})
	if err != nil {
		t.Fatalf("deliverFrom: %v", err)
	}
	if cursor != 6 {
		t.Fatalf("expected cursor 6, got %d", cursor)
	}
	if len(seen) != 1 || seen[0] != "0xnew" {
		t.Fatalf("expected only the new event, got %v", seen)
	}
}

func TestDeliverFromHandlerErrorHoldsCursor(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodEvents: func(json.RawMessage) (any, *rpcError) {
			return []Event{
				{Kind: EventKindIssued, ProofHash: "0xa", BlockNumber: 21},
				{Kind: EventKindIssued, ProofHash: "0xb", BlockNumber: 22},
			}, nil
		},
	})

	handlerErr := errors.New("store offline")
	cursor, err := client.deliverFrom(context.Background(), 20, func(_ context.Context, event Event) error {
		if event.ProofHash == "0xb" {
			return handlerErr
		}
		return nil
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	// First event was accepted; the failed one stays beyond the cursor and is
	// redelivered next poll.
	if cursor != 21 {
		t.Fatalf("expected cursor 21, got %d", cursor)
	}
}

func TestStreamEventsDeliversAndStops(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodBlockNumber: func(json.RawMessage) (any, *rpcError) {
			return uint64(100), nil
		},
		methodEvents: func(params json.RawMessage) (any, *rpcError) {
			var args map[string]any
			if err := json.Unmarshal(params, &args); err != nil {
				t.Fatalf("decode params: %v", err)
			}
			from := uint64(args["fromBlock"].(float64))
			if from >= 101 {
				return []Event{}, nil
			}
			return []Event{{Kind: EventKindIssued, ProofHash: "0xs", BlockNumber: 101, TxID: "tx-s"}}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.StreamEvents(ctx, func(_ context.Context, event Event) error {
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := delivered
		mu.Unlock()
		if count > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no event delivered before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancel")
	}

	// The cursor advanced past block 101, so the one event is not redelivered.
	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}
}

func TestStreamEventsRequiresHandler(t *testing.T) {
	client, _ := newTestClient(t, nil)
	if err := client.StreamEvents(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestInitialCursorSaturatesAtZero(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(json.RawMessage) (any, *rpcError){
		methodBlockNumber: func(json.RawMessage) (any, *rpcError) {
			return uint64(4), nil
		},
	})
	// Lookback (16) exceeds the head (4).
	cursor, err := client.initialCursor(context.Background())
	if err != nil {
		t.Fatalf("initialCursor: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("expected cursor 0, got %d", cursor)
	}
}
