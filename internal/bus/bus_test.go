package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestRequestReply(t *testing.T) {
	b := New(testLogger)
	posts := []types.Post{{ID: "p1", Author: "ada", Content: "hello"}}

	b.Handle(types.MsgFetchRequest, func(ctx context.Context, msg types.Message) (types.Message, error) {
		return types.NewScrapeComplete(posts, 1), nil
	})

	reply, err := b.Request(context.Background(), types.Message{Type: types.MsgFetchRequest})
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if reply.Type != types.MsgScrapeComplete {
		t.Errorf("expected SCRAPE_COMPLETE reply, got %s", reply.Type)
	}
	if len(reply.Payload) != 1 || reply.Added != 1 {
		t.Errorf("expected payload to pass through, got %d posts, %d added", len(reply.Payload), reply.Added)
	}
}

func TestRequestValidatesBeforeDelivery(t *testing.T) {
	b := New(testLogger)
	calls := 0
	b.Handle(types.MsgExecuteScrape, func(ctx context.Context, msg types.Message) (types.Message, error) {
		calls++
		return types.Message{}, nil
	})

	// EXECUTE_SCRAPE without a tab_id fails validation at the boundary.
	_, err := b.Request(context.Background(), types.Message{Type: types.MsgExecuteScrape})
	if !errors.Is(err, types.ErrBadMessage) {
		t.Fatalf("expected ErrBadMessage, got %v", err)
	}
	if calls != 0 {
		t.Error("invalid request must not reach the handler")
	}
}

func TestRequestNoHandler(t *testing.T) {
	b := New(testLogger)

	_, err := b.Request(context.Background(), types.Message{Type: types.MsgFetchRequest})
	if !errors.Is(err, types.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestRequestHandlerError(t *testing.T) {
	b := New(testLogger)
	boom := errors.New("scrape exploded")
	b.Handle(types.MsgFetchRequest, func(ctx context.Context, msg types.Message) (types.Message, error) {
		return types.Message{}, boom
	})

	reply, err := b.Request(context.Background(), types.Message{Type: types.MsgFetchRequest})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if reply.Type != "" {
		t.Errorf("expected zero reply on error, got %v", reply)
	}
}

func TestHandleReplacesPrevious(t *testing.T) {
	b := New(testLogger)
	var firstCalls, secondCalls int
	b.Handle(types.MsgFetchRequest, func(ctx context.Context, msg types.Message) (types.Message, error) {
		firstCalls++
		return types.Message{Type: types.MsgScrapeComplete}, nil
	})
	b.Handle(types.MsgFetchRequest, func(ctx context.Context, msg types.Message) (types.Message, error) {
		secondCalls++
		return types.Message{Type: types.MsgScrapeComplete}, nil
	})

	if _, err := b.Request(context.Background(), types.Message{Type: types.MsgFetchRequest}); err != nil {
		t.Fatalf("request error: %v", err)
	}
	if firstCalls != 0 || secondCalls != 1 {
		t.Errorf("expected only the replacement handler to run, got %d/%d", firstCalls, secondCalls)
	}
}

func TestPublishBroadcasts(t *testing.T) {
	b := New(testLogger)
	var first, second []types.Message
	unsub := b.Subscribe(func(msg types.Message) { first = append(first, msg) })
	b.Subscribe(func(msg types.Message) { second = append(second, msg) })

	b.Publish(types.NewDataResponse(types.NewRetentionState(), 0))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both subscribers notified, got %d/%d", len(first), len(second))
	}
	if first[0].Type != types.MsgDataResponse {
		t.Errorf("expected DATA_RESPONSE, got %s", first[0].Type)
	}

	unsub()
	b.Publish(types.NewDataResponse(types.NewRetentionState(), 2))
	if len(first) != 1 {
		t.Error("unsubscribed listener must not be notified")
	}
	if len(second) != 2 {
		t.Errorf("remaining listener must keep receiving, got %d", len(second))
	}
}

func TestPublishDropsInvalid(t *testing.T) {
	b := New(testLogger)
	delivered := 0
	b.Subscribe(func(msg types.Message) { delivered++ })

	b.Publish(types.Message{Type: "BOGUS"})
	b.Publish(types.Message{Type: types.MsgScrapeError}) // missing error text

	if delivered != 0 {
		t.Errorf("invalid broadcasts must be dropped, got %d deliveries", delivered)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(testLogger)
	// Fire-and-forget: no subscribers is fine.
	b.Publish(types.NewDataResponse(types.NewRetentionState(), 0))
}
