package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/devhub/internal/model"
)

// PostgreSQLのNOTIFYチャネル名。マイグレーションのトリガーと一致させること。
const (
	ChannelContent   = "devhub_content"
	ChannelReactions = "devhub_reactions"
)

// Publisher はブリッジが通知を転送する先のインターフェース。
type Publisher interface {
	PublishInsert(ctx context.Context, ev model.InsertEvent) error
	PublishReaction(ctx context.Context, ev model.ReactionEvent) error
}

// reactionNotification はreactionsトリガーが送るNOTIFYペイロード。
type reactionNotification struct {
	EventType  model.ReactionEventType `json:"event_type"`
	TargetKind model.ContentKind       `json:"target_kind"`
	TargetID   string                  `json:"target_id"`
	UserID     string                  `json:"user_id"`
}

// PGBridge はPostgreSQLのLISTEN/NOTIFYを購読し、変更通知をPublisherへ転送する。
// 再接続はpq.Listenerに任せ、本ブリッジ自体はリトライしない。
type PGBridge struct {
	databaseURL  string
	pub          Publisher
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewPGBridge はPGBridgeを生成する。
func NewPGBridge(databaseURL string, pub Publisher, logger *slog.Logger) *PGBridge {
	return &PGBridge{
		databaseURL:  databaseURL,
		pub:          pub,
		logger:       logger,
		pingInterval: 90 * time.Second,
	}
}

// Run はコンテキストがキャンセルされるまでNOTIFYを転送し続ける。
func (b *PGBridge) Run(ctx context.Context) error {
	listener := pq.NewListener(b.databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				b.logger.Error("postgres listener event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		})
	defer listener.Close()

	for _, ch := range []string{ChannelContent, ChannelReactions} {
		if err := listener.Listen(ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	b.logger.Info("通知ブリッジを開始しました",
		slog.String("channels", ChannelContent+","+ChannelReactions),
	)

	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("通知ブリッジを停止しました")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// 再接続直後。切断中の通知は失われている
				b.logger.Warn("postgres listener reconnected; notifications may have been lost")
				continue
			}
			if err := b.Dispatch(ctx, n.Channel, n.Extra); err != nil {
				b.logger.Error("通知の転送に失敗しました",
					slog.String("channel", n.Channel),
					slog.String("error", err.Error()),
				)
			}
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					b.logger.Warn("postgres listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// Dispatch はNOTIFYペイロード1件をデコードしてPublisherへ転送する。
func (b *PGBridge) Dispatch(ctx context.Context, channel, payload string) error {
	switch channel {
	case ChannelContent:
		var ev model.InsertEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decode content notification: %w", err)
		}
		if _, err := model.ParseContentKind(string(ev.Kind)); err != nil {
			return err
		}
		if ev.ID == "" {
			return fmt.Errorf("content notification without id")
		}
		return b.pub.PublishInsert(ctx, ev)

	case ChannelReactions:
		var n reactionNotification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return fmt.Errorf("decode reaction notification: %w", err)
		}
		if n.EventType != model.ReactionInserted && n.EventType != model.ReactionDeleted {
			return fmt.Errorf("unknown reaction event type: %q", n.EventType)
		}
		return b.pub.PublishReaction(ctx, model.ReactionEvent{
			Target:  model.ItemKey{Kind: n.TargetKind, ID: n.TargetID},
			Type:    n.EventType,
			ActorID: n.UserID,
		})

	default:
		return fmt.Errorf("unexpected channel: %s", channel)
	}
}

var _ Publisher = (*Bus)(nil)
