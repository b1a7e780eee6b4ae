package audit

import (
	"context"

	"github.com/sidequest/server/middleware"
	"github.com/sidequest/server/model"
	"github.com/sidequest/server/plugin/hook"
	"github.com/sidequest/server/quest"
)

// Register subscribes svc to quest transitions and account events on hc.
func Register(hc *hook.HookCenter, svc *Service) {
	fn := Hook(svc)
	for _, ev := range []string{
		hook.OnQuestStart, hook.OnQuestCheckIn, hook.OnQuestComplete, hook.OnQuestAbandon,
		hook.OnUserSignup, hook.OnUserSignin, hook.OnFriendAdded,
	} {
		hc.Register(ev, hook.PriorityAudit, "audit", fn)
	}
}

// Hook returns a hook that writes one audit row per event. It understands
// quest.Event, *model.User and model.Friendship payloads and passes anything
// else through.
func Hook(svc *Service) hook.HookFn {
	return func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		switch v := data.(type) {
		case quest.Event:
			svc.Log(questEntry(ctx, event, v))
		case *model.User:
			uid := v.ID
			svc.Log(Entry{
				TraceID: middleware.TraceIDFrom(ctx),
				UserID:  &uid,
				Action:  event,
				IP:      v.LastLoginIP,
			})
		case model.Friendship:
			uid := v.UserID
			svc.Log(Entry{
				TraceID: middleware.TraceIDFrom(ctx),
				UserID:  &uid,
				Action:  event,
				Detail:  map[string]int64{"friend_id": v.FriendID},
			})
		}
		return data, nil
	}
}

func questEntry(ctx context.Context, event string, ev quest.Event) Entry {
	uid := ev.UserID
	detail := map[string]interface{}{}
	if ev.LocationID != "" {
		detail["location_id"] = ev.LocationID
	}
	if ev.Progress != nil {
		detail["percent"] = ev.Progress.Percent
	}
	if ev.Record != nil {
		detail["points_awarded"] = ev.Record.PointsAwarded
		detail["first_clear"] = ev.Record.FirstClear
	}
	return Entry{
		TraceID: middleware.TraceIDFrom(ctx),
		UserID:  &uid,
		Action:  event,
		QuestID: ev.QuestID,
		Detail:  detail,
	}
}
