package events

import (
	"context"

	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"go.uber.org/zap"
)

// Register publishes every quest event through pub.
func Register(hc *hook.HookCenter, pub Publisher, logger *zap.Logger) {
	fn := QuestHook(pub, logger)
	for _, ev := range []string{hook.OnQuestStart, hook.OnQuestCheckIn, hook.OnQuestComplete, hook.OnQuestAbandon} {
		hc.Register(ev, hook.PriorityEvents, "events", fn)
	}
}

// QuestHook converts a quest.Event into a Message and publishes it.
// Publish failures are logged; they never interrupt the chain.
func QuestHook(pub Publisher, logger *zap.Logger) hook.HookFn {
	return func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		ev, ok := data.(quest.Event)
		if !ok {
			return data, nil
		}
		msg, err := NewMessage(event, ev.UserID, ev, ev.At)
		if err != nil {
			return data, err
		}
		if err := pub.Publish(ctx, msg); err != nil {
			logger.Warn("quest event not published", zap.String("event", event), zap.Int64("user_id", ev.UserID), zap.Error(err))
		}
		return data, nil
	}
}
