package ranking

import (
	"context"

	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
	"go.uber.org/zap"
)

// Register keeps lb current on every quest completion.
func Register(hc *hook.HookCenter, lb *Leaderboard) {
	hc.Register(hook.OnQuestComplete, hook.PriorityRanking, "ranking", QuestHook(lb))
}

// QuestHook re-reads the user's points after a completion and updates the
// cached set.
func QuestHook(lb *Leaderboard) hook.HookFn {
	return func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		ev, ok := data.(quest.Event)
		if !ok {
			return data, nil
		}
		var u model.User
		if err := lb.db.WithContext(ctx).Select("id, points").Where("id = ?", ev.UserID).Take(&u).Error; err != nil {
			return data, err
		}
		if err := lb.Record(ctx, u.ID, u.Points); err != nil {
			lb.logger.Warn("leaderboard update failed", zap.Int64("user_id", u.ID), zap.Error(err))
			return data, err
		}
		return data, nil
	}
}
