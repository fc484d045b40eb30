package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/model"
)

type prependRecorder struct {
	ledger *Ledger
	items  []model.ContentItem
}

func (p *prependRecorder) prepend(item model.ContentItem) bool {
	if !p.ledger.TryAdd(item.Key()) {
		return false
	}
	p.items = append([]model.ContentItem{item}, p.items...)
	return true
}

func newTestListener(reader ContentReader, sub InsertSubscriber) (*Listener, *prependRecorder) {
	rec := &prependRecorder{ledger: NewLedger()}
	l := NewListener(ListenerConfig{
		Subscriber: sub,
		Reader:     reader,
		Ledger:     rec.ledger,
		Prepend:    rec.prepend,
	})
	return l, rec
}

// TestListener_PartialSubscriptionFailure は一部種別の購読失敗でも残りの種別が動作することを検証する。
func TestListener_PartialSubscriptionFailure(t *testing.T) {
	sub := newMockSubscriber()
	sub.failKind[model.ContentKindSnippet] = errors.New("permission denied")
	item := post("p1", "u", 1)
	reader := &mockReader{
		fetchByIDFn: func(_ context.Context, _ model.ContentKind, _ string, _ string) (*model.ContentItem, error) {
			return &item, nil
		},
	}

	l, rec := newTestListener(reader, sub)
	defer l.Close()

	if n := l.Open(); n != 1 {
		t.Fatalf("Open = %d, want 1", n)
	}
	sub.emit(model.InsertEvent{Kind: model.ContentKindPost, ID: "p1", AuthorID: "u"})
	if len(rec.items) != 1 {
		t.Errorf("items = %d, want 1", len(rec.items))
	}
}

func TestListener_NilSubscriberIsPaginationOnly(t *testing.T) {
	l, _ := newTestListener(&mockReader{}, nil)
	if n := l.Open(); n != 0 {
		t.Errorf("Open = %d, want 0", n)
	}
	l.Close()
}

// TestListener_DropsFailedAndMissingFetches は取得失敗と不可視アイテムが黙って捨てられることを検証する。
func TestListener_DropsFailedAndMissingFetches(t *testing.T) {
	reader := &mockReader{
		fetchByIDFn: func(_ context.Context, _ model.ContentKind, id string, _ string) (*model.ContentItem, error) {
			if id == "broken" {
				return nil, errors.New("boom")
			}
			return nil, nil // 非公開スニペットなど
		},
	}
	sub := newMockSubscriber()
	reg := prometheus.NewRegistry()
	rec := &prependRecorder{ledger: NewLedger()}
	l := NewListener(ListenerConfig{
		Subscriber: sub,
		Reader:     reader,
		Ledger:     rec.ledger,
		Prepend:    rec.prepend,
		Metrics:    metrics.NewCollector(reg),
	})
	defer l.Close()
	l.Open()

	sub.emit(model.InsertEvent{Kind: model.ContentKindSnippet, ID: "broken"})
	sub.emit(model.InsertEvent{Kind: model.ContentKindSnippet, ID: "private"})

	if len(rec.items) != 0 {
		t.Errorf("items = %v, want none", keysOf(rec.items))
	}
	if rec.ledger.Len() != 0 {
		t.Error("dropped items must not enter the ledger")
	}
	if n := reader.byIDCalls.Load(); n != 2 {
		t.Errorf("FetchByID calls = %d, want 2 (no retry)", n)
	}
}

func TestListener_KnownItemSkipsFetch(t *testing.T) {
	reader := &mockReader{}
	sub := newMockSubscriber()
	l, rec := newTestListener(reader, sub)
	defer l.Close()
	l.Open()

	rec.ledger.Add(model.ItemKey{Kind: model.ContentKindPost, ID: "seen"})
	sub.emit(model.InsertEvent{Kind: model.ContentKindPost, ID: "seen"})

	if n := reader.byIDCalls.Load(); n != 0 {
		t.Errorf("FetchByID calls = %d, want 0", n)
	}
}

// TestListener_CloseCancelsInFlightFetch はClose後に完了した取得結果が破棄されることを検証する。
func TestListener_CloseCancelsInFlightFetch(t *testing.T) {
	sub := newMockSubscriber()
	var l *Listener
	reader := &mockReader{
		fetchByIDFn: func(ctx context.Context, _ model.ContentKind, id string, _ string) (*model.ContentItem, error) {
			l.Close()
			if ctx.Err() == nil {
				t.Error("fetch context should be canceled by Close")
			}
			item := post(id, "u", 1)
			return &item, nil
		},
	}
	var rec *prependRecorder
	l, rec = newTestListener(reader, sub)
	l.Open()

	sub.emit(model.InsertEvent{Kind: model.ContentKindPost, ID: "late"})

	if len(rec.items) != 0 {
		t.Errorf("late item ingested after Close: %v", keysOf(rec.items))
	}
	for i, s := range sub.subs {
		if !s.unsubscribed.Load() {
			t.Errorf("subscription %d not released", i)
		}
	}
}
