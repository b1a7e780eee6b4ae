package quest

import (
	"context"
	"errors"
	"time"

	"github.com/sidequest/server/plugin/hook"
	"go.uber.org/zap"
)

// Catalog resolves quest definitions. GetQuest returns an error matching
// ErrQuestNotFound for unknown ids.
type Catalog interface {
	GetQuest(ctx context.Context, id string) (*Definition, error)
}

// Event is the payload handed to hooks after a transition has committed.
type Event struct {
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	QuestID    string    `json:"quest_id"`
	LocationID string    `json:"location_id,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	Record     *Record   `json:"record,omitempty"`
	At         time.Time `json:"at"`
}

// CheckInResult is returned by Service.CheckIn.
type CheckInResult struct {
	Outcome  Outcome   `json:"-"`
	Progress *Progress `json:"progress"`
	Record   *Record   `json:"record,omitempty"`
}

// Service runs the quest state machine against an AccountStore.
type Service struct {
	store      AccountStore
	catalog    Catalog
	hooks      *hook.HookCenter
	logger     *zap.Logger
	now        func() time.Time
	maxRetries int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHooks makes the service trigger quest events on hc.
func WithHooks(hc *hook.HookCenter) Option {
	return func(s *Service) { s.hooks = hc }
}

// WithMaxRetries bounds how often a conflicting operation is re-run.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService creates a quest Service.
func NewService(store AccountStore, catalog Catalog, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		catalog:    catalog,
		logger:     logger,
		now:        time.Now,
		maxRetries: 3,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartQuest makes questID the user's active quest.
func (s *Service) StartQuest(ctx context.Context, userID int64, questID string) (*Progress, error) {
	def, err := s.lookup(ctx, questID)
	if err != nil {
		return nil, err
	}

	var started *Progress
	err = s.withRetry(ctx, "start quest", func() error {
		started = nil
		return s.store.Atomically(ctx, func(tx AccountStore) error {
			cur, err := tx.GetActiveProgress(ctx, userID)
			if err != nil {
				return err
			}
			if cur != nil {
				return &AlreadyActiveError{QuestID: cur.QuestID}
			}
			p := Start(userID, def, s.now().UTC())
			if err := tx.SetActiveProgress(ctx, userID, p); err != nil {
				return err
			}
			started = p
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrQuestAlreadyActive) {
			questsRejected.WithLabelValues("already_active").Inc()
		}
		return nil, err
	}

	questsStarted.Inc()
	s.logger.Info("quest started", zap.Int64("user_id", userID), zap.String("quest_id", questID))
	s.emit(ctx, Event{Type: hook.OnQuestStart, UserID: userID, QuestID: questID, Progress: started.Clone(), At: started.StartedAt})
	return started, nil
}

// CheckIn records a visit to locationID for the user's active quest. When
// it is the last required location, the quest completes within the same
// transaction: the record is appended, points and the completed counter are
// incremented and the active quest is cleared.
func (s *Service) CheckIn(ctx context.Context, userID int64, locationID string) (*CheckInResult, error) {
	var result *CheckInResult
	err := s.withRetry(ctx, "check in", func() error {
		result = nil

		// Resolve the definition outside the transaction so the catalog
		// never competes with it for a connection.
		peek, err := s.store.GetActiveProgress(ctx, userID)
		if err != nil {
			return err
		}
		if peek == nil {
			return ErrNoActiveQuest
		}
		def, err := s.lookup(ctx, peek.QuestID)
		if err != nil {
			return err
		}

		return s.store.Atomically(ctx, func(tx AccountStore) error {
			cur, err := tx.GetActiveProgress(ctx, userID)
			if err != nil {
				return err
			}
			if cur == nil {
				return ErrNoActiveQuest
			}
			if cur.QuestID != def.ID {
				return ErrConflict
			}
			annotate(cur, def)

			tr, err := CheckIn(cur, def, locationID, s.now().UTC())
			if err != nil {
				if errors.Is(err, ErrLocationNotInQuest) {
					result = &CheckInResult{Progress: cur}
				}
				return err
			}

			switch tr.Outcome {
			case OutcomeStillActive:
				if err := tx.SetActiveProgress(ctx, userID, tr.Progress); err != nil {
					return err
				}
			case OutcomeCompleted:
				if err := s.complete(ctx, tx, userID, tr.Record); err != nil {
					return err
				}
			}
			result = &CheckInResult{Outcome: tr.Outcome, Progress: tr.Progress, Record: tr.Record}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrLocationNotInQuest) {
			checkIns.WithLabelValues("not_in_quest").Inc()
			return result, err
		}
		return nil, err
	}

	checkIns.WithLabelValues(result.Outcome.String()).Inc()
	at := s.now().UTC()
	switch result.Outcome {
	case OutcomeStillActive:
		s.emit(ctx, Event{Type: hook.OnQuestCheckIn, UserID: userID, QuestID: result.Progress.QuestID,
			LocationID: locationID, Progress: result.Progress.Clone(), At: at})
	case OutcomeCompleted:
		questsCompleted.Inc()
		pointsAwarded.Add(float64(result.Record.PointsAwarded))
		s.logger.Info("quest completed",
			zap.Int64("user_id", userID),
			zap.String("quest_id", result.Record.QuestID),
			zap.Int("points", result.Record.PointsAwarded),
			zap.Bool("first_clear", result.Record.FirstClear))
		s.emit(ctx, Event{Type: hook.OnQuestCheckIn, UserID: userID, QuestID: result.Progress.QuestID,
			LocationID: locationID, Progress: result.Progress.Clone(), At: at})
		rec := *result.Record
		s.emit(ctx, Event{Type: hook.OnQuestComplete, UserID: userID, QuestID: rec.QuestID,
			LocationID: locationID, Progress: result.Progress.Clone(), Record: &rec, At: rec.CompletedAt})
	}
	return result, nil
}

// complete applies the side effects of a Completed transition inside tx.
func (s *Service) complete(ctx context.Context, tx AccountStore, userID int64, rec *Record) error {
	cleared, err := tx.HasCompleted(ctx, userID, rec.QuestID)
	if err != nil {
		return err
	}
	rec.FirstClear = !cleared
	if err := tx.AppendCompletedRecord(ctx, userID, *rec); err != nil {
		return err
	}
	if err := tx.IncrementPoints(ctx, userID, rec.PointsAwarded); err != nil {
		return err
	}
	if err := tx.IncrementCompleted(ctx, userID); err != nil {
		return err
	}
	return tx.SetActiveProgress(ctx, userID, nil)
}

// Abandon discards the active quest without a record or points. It reports
// false when there was nothing to abandon.
func (s *Service) Abandon(ctx context.Context, userID int64) (bool, error) {
	var dropped *Progress
	err := s.withRetry(ctx, "abandon quest", func() error {
		dropped = nil
		return s.store.Atomically(ctx, func(tx AccountStore) error {
			cur, err := tx.GetActiveProgress(ctx, userID)
			if err != nil || cur == nil {
				return err
			}
			if err := tx.SetActiveProgress(ctx, userID, nil); err != nil {
				return err
			}
			dropped = cur
			return nil
		})
	})
	if err != nil || dropped == nil {
		return false, err
	}

	questsAbandoned.Inc()
	dropped.Status = StatusAbandoned
	s.logger.Info("quest abandoned", zap.Int64("user_id", userID), zap.String("quest_id", dropped.QuestID))
	s.emit(ctx, Event{Type: hook.OnQuestAbandon, UserID: userID, QuestID: dropped.QuestID, Progress: dropped, At: s.now().UTC()})
	return true, nil
}

// Active returns the user's active quest, or nil.
func (s *Service) Active(ctx context.Context, userID int64) (*Progress, error) {
	p, err := s.store.GetActiveProgress(ctx, userID)
	if err != nil {
		return nil, persistenceFailure("load active quest", err)
	}
	if p == nil {
		return nil, nil
	}
	def, err := s.lookup(ctx, p.QuestID)
	switch {
	case err == nil:
		annotate(p, def)
	case errors.Is(err, ErrQuestNotFound):
		s.logger.Warn("active quest missing from catalog", zap.Int64("user_id", userID), zap.String("quest_id", p.QuestID))
	default:
		return nil, err
	}
	return p, nil
}

// History returns the user's completions, newest first. limit <= 0 means all.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]Record, error) {
	recs, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, persistenceFailure("load history", err)
	}
	return recs, nil
}

func (s *Service) lookup(ctx context.Context, questID string) (*Definition, error) {
	def, err := s.catalog.GetQuest(ctx, questID)
	if err != nil {
		if errors.Is(err, ErrQuestNotFound) {
			return nil, err
		}
		return nil, persistenceFailure("load quest", err)
	}
	return def, nil
}

// withRetry re-runs fn while it reports ErrConflict. Storage errors come
// back wrapped as ErrPersistence; domain errors pass through unchanged.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			break
		}
		conflicts.Inc()
		s.logger.Debug("quest progress conflict", zap.String("op", op), zap.Int("attempt", attempt))
		if ctx.Err() != nil {
			break
		}
	}
	if err == nil || isDomainError(err) {
		return err
	}
	return persistenceFailure(op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrQuestNotFound) ||
		errors.Is(err, ErrQuestAlreadyActive) ||
		errors.Is(err, ErrLocationNotInQuest) ||
		errors.Is(err, ErrNoActiveQuest) ||
		errors.Is(err, ErrPersistence)
}

// emit triggers the hook for ev. Hook failures never undo a committed
// transition.
func (s *Service) emit(ctx context.Context, ev Event) {
	if s.hooks == nil {
		return
	}
	if _, err := s.hooks.Trigger(ctx, ev.Type, ev); err != nil {
		s.logger.Warn("quest hook interrupted", zap.String("event", ev.Type), zap.Error(err))
	}
}

// annotate fills the derived Total and Percent fields of p from def.
func annotate(p *Progress, def *Definition) {
	required := def.RequiredLocations()
	p.Total = len(required)
	p.Percent = Percent(countIn(p.Visited, required), p.Total)
}
