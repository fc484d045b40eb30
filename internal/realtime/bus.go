package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/devhub/internal/model"
)

// Subscription は購読の解除ハンドル。
type Subscription interface {
	Unsubscribe() error
}

// InsertHandler はコンテンツ挿入通知を受け取るコールバック。
// ctxには通知元のトレースコンテキストが含まれる。
type InsertHandler func(ctx context.Context, ev model.InsertEvent)

// ReactionHandler はリアクション変更通知を受け取るコールバック。
type ReactionHandler func(ctx context.Context, ev model.ReactionEvent)

// reactionMessage はリアクション通知のワイヤーフォーマット。
type reactionMessage struct {
	TargetKind model.ContentKind       `json:"target_kind"`
	TargetID   string                  `json:"target_id"`
	EventType  model.ReactionEventType `json:"event_type"`
	ActorID    string                  `json:"actor_id"`
}

// Bus はNATSを使用した変更通知チャネル。
// 同一サブジェクトへのメッセージはサブスクリプションごとに直列に処理される。
type Bus struct {
	nc     *nats.Conn
	logger *slog.Logger
	tracer trace.Tracer
}

// NewBus はBusを生成する。
func NewBus(nc *nats.Conn, logger *slog.Logger) *Bus {
	return &Bus{
		nc:     nc,
		logger: logger,
		tracer: otel.Tracer("devhub/realtime"),
	}
}

// PublishInsert はコンテンツ挿入通知を発行する。
func (b *Bus) PublishInsert(ctx context.Context, ev model.InsertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal insert event: %w", err)
	}
	return b.publish(ctx, InsertSubject(ev.Kind), data)
}

// PublishReaction はリアクション変更通知を発行する。
func (b *Bus) PublishReaction(ctx context.Context, ev model.ReactionEvent) error {
	subject, err := ReactionSubject(ev.Target)
	if err != nil {
		return err
	}
	data, err := json.Marshal(reactionMessage{
		TargetKind: ev.Target.Kind,
		TargetID:   ev.Target.ID,
		EventType:  ev.Type,
		ActorID:    ev.ActorID,
	})
	if err != nil {
		return fmt.Errorf("marshal reaction event: %w", err)
	}
	return b.publish(ctx, subject, data)
}

func (b *Bus) publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	// トレースコンテキストをヘッダーに埋め込む
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeInserts は指定種別の挿入通知を購読する。
// 不正なペイロードはログに記録して破棄する。
func (b *Bus) SubscribeInserts(kind model.ContentKind, h InsertHandler) (Subscription, error) {
	subject := InsertSubject(kind)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, span := b.startSpan(msg, "realtime.insert")
		defer span.End()

		var ev model.InsertEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			span.RecordError(err)
			b.logger.Warn("invalid insert event",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
			return
		}
		if ev.Kind == "" {
			ev.Kind = kind
		}
		span.SetAttributes(attribute.String("item.key", ev.Key().String()))
		h(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// SubscribeReactions はターゲット1件のリアクション変更通知を購読する。
func (b *Bus) SubscribeReactions(target model.ItemKey, h ReactionHandler) (Subscription, error) {
	subject, err := ReactionSubject(target)
	if err != nil {
		return nil, err
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, span := b.startSpan(msg, "realtime.reaction")
		defer span.End()

		var m reactionMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			span.RecordError(err)
			b.logger.Warn("invalid reaction event",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
			return
		}
		h(ctx, model.ReactionEvent{
			Target:  target,
			Type:    m.EventType,
			ActorID: m.ActorID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// startSpan はメッセージヘッダーからトレースコンテキストを取り出し、コンシューマースパンを開始する。
func (b *Bus) startSpan(msg *nats.Msg, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	ctx, span := b.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("messaging.destination", msg.Subject))
	return ctx, span
}
