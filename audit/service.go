package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidequest/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrStopped is returned by Flush once the writer has shut down.
var ErrStopped = errors.New("audit: writer stopped")

const (
	defaultBatchSize = 100
	defaultInterval  = 2 * time.Second
	defaultQueueSize = 1024
	defaultLimit     = 50
	maxLimit         = 500
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID string
	UserID  *int64
	Action  string
	QuestID string
	Detail  interface{}
	Error   string
	IP      string
}

// Options tunes batching. Zero values take the defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Stats counts what happened to logged entries.
type Stats struct {
	Queued  int    `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	UserID  *int64
	Action  string
	QuestID string
	TraceID string
	Since   time.Time
	Limit   int
}

// Service writes audit rows in batches on a background goroutine. Log
// never blocks: when the queue is full the entry is dropped and counted.
type Service struct {
	db        *gorm.DB
	logger    *zap.Logger
	queue     chan *model.AuditLog
	flushReq  chan chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	batchSize int
	interval  time.Duration

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a Service and starts its writer.
func New(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	svc := build(db, logger, opts)
	go svc.run()
	return svc
}

func build(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Service{
		db:        db,
		logger:    logger,
		queue:     make(chan *model.AuditLog, opts.QueueSize),
		flushReq:  make(chan chan error),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
	}
}

// Log queues entry for writing.
func (svc *Service) Log(entry Entry) {
	row := &model.AuditLog{
		TraceID: entry.TraceID,
		UserID:  entry.UserID,
		Action:  entry.Action,
		QuestID: entry.QuestID,
		Error:   entry.Error,
		IP:      entry.IP,
	}
	if entry.Detail != nil {
		if raw, err := json.Marshal(entry.Detail); err == nil {
			row.Detail = datatypes.JSON(raw)
		} else {
			svc.logger.Warn("audit detail not encodable", zap.String("action", entry.Action), zap.Error(err))
		}
	}
	select {
	case <-svc.stopCh:
		svc.dropped.Add(1)
		return
	default:
	}
	select {
	case svc.queue <- row:
	default:
		svc.dropped.Add(1)
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", entry.Action))
	}
}

// Flush writes everything queued so far and returns the write error, if
// any.
func (svc *Service) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case svc.flushReq <- reply:
	case <-svc.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the writer's counters.
func (svc *Service) Stats() Stats {
	return Stats{
		Queued:  len(svc.queue),
		Written: svc.written.Load(),
		Dropped: svc.dropped.Load(),
		Failed:  svc.failed.Load(),
	}
}

// Query returns the newest rows matching f.
func (svc *Service) Query(ctx context.Context, f Filter) ([]model.AuditLog, error) {
	q := svc.db.WithContext(ctx).Model(&model.AuditLog{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.QuestID != "" {
		q = q.Where("quest_id = ?", f.QuestID)
	}
	if f.TraceID != "" {
		q = q.Where("trace_id = ?", f.TraceID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var rows []model.AuditLog
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Prune deletes rows created before cutoff and returns how many went.
func (svc *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := svc.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	return res.RowsAffected, res.Error
}

// Stop drains the queue, writes it and shuts the writer down. It waits
// until that is done or ctx ends.
func (svc *Service) Stop(ctx context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	if ctx == nil {
		<-svc.done
		return
	}
	select {
	case <-svc.done:
	case <-ctx.Done():
		svc.logger.Warn("audit stop timed out; pending entries may be lost",
			zap.Int("queued", len(svc.queue)))
	}
}

func (svc *Service) run() {
	defer close(svc.done)
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.batchSize)
	write := func() error {
		if len(batch) == 0 {
			return nil
		}
		n := len(batch)
		err := svc.db.CreateInBatches(batch, svc.batchSize).Error
		if err != nil {
			svc.failed.Add(uint64(n))
			svc.logger.Error("audit batch write failed", zap.Int("entries", n), zap.Error(err))
		} else {
			svc.written.Add(uint64(n))
		}
		batch = batch[:0]
		return err
	}
	drain := func() {
		for {
			select {
			case row := <-svc.queue:
				batch = append(batch, row)
			default:
				return
			}
		}
	}

	for {
		select {
		case row := <-svc.queue:
			batch = append(batch, row)
			if len(batch) >= svc.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		case reply := <-svc.flushReq:
			drain()
			reply <- write()
		case <-svc.stopCh:
			drain()
			write()
			return
		}
	}
}
