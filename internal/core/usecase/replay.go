package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

const (
	DefaultReplayMaxRetries = 3
	DefaultReplayRetryDelay = 5 * time.Second
)

type ReplayConfig struct {
	MaxRetries int
	// RetryDelay is the fixed pause before leftovers are flushed again.
	// Zero disables the automatic re-flush.
	RetryDelay time.Duration
}

// ReplayQueue holds mutations made while disconnected and replays them in
// insertion order once the remote side is reachable.
type ReplayQueue struct {
	store    ports.ActionStore
	gateway  ports.EntityGateway
	notifier ports.Notifier
	logger   *slog.Logger
	cfg      ReplayConfig
	now      func() time.Time

	flushMu sync.Mutex
	online  atomic.Bool

	timerMu    sync.Mutex
	retryTimer *time.Timer
	closed     bool
}

func NewReplayQueue(store ports.ActionStore, gateway ports.EntityGateway, notifier ports.Notifier, cfg ReplayConfig, logger *slog.Logger) *ReplayQueue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultReplayMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayQueue{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q *ReplayQueue) Online() bool {
	return q.online.Load()
}

// QueueAction persists the mutation and, when online, flushes right away.
func (q *ReplayQueue) QueueAction(ctx context.Context, kind domain.ActionKind, targetEntity string, data map[string]any) (string, error) {
	if _, err := domain.ParseActionKind(string(kind)); err != nil {
		return "", err
	}
	targetEntity = strings.TrimSpace(targetEntity)
	if targetEntity == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "queue action", errors.New("target entity is required"))
	}
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "queue action", err)
	}

	action := domain.QueuedAction{
		ID:           uuid.NewString(),
		Kind:         kind,
		TargetEntity: targetEntity,
		Data:         raw,
		Timestamp:    q.now(),
	}
	if kind != domain.ActionInsert {
		if _, err := action.EntityID(); err != nil {
			return "", err
		}
	}
	if err := q.store.Append(ctx, action); err != nil {
		return "", fmt.Errorf("queue action: %w", err)
	}
	q.logger.Info("action_queued", "action_id", action.ID, "kind", kind, "entity", targetEntity, "online", q.Online())

	if q.Online() {
		if _, err := q.Flush(ctx); err != nil {
			q.logger.Error("replay_flush_failed", "error", err)
		}
	}
	return action.ID, nil
}

func (q *ReplayQueue) Pending(ctx context.Context) ([]domain.QueuedAction, error) {
	return q.store.List(ctx)
}

// Flush replays every stored action once, oldest first. A failed action is
// kept while its retry count is below MaxRetries and dropped afterwards.
// Dropped actions are reported even when the flush stops early.
func (q *ReplayQueue) Flush(ctx context.Context) (domain.FlushReport, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	report := domain.FlushReport{}
	defer func() { q.notifyDropped(report.PermanentlyFailed) }()
	actions, err := q.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list queued actions: %w", err)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp)
	})

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		replayErr := q.replay(ctx, action)
		if replayErr == nil {
			if err := q.store.Delete(ctx, action.ID); err != nil {
				return report, fmt.Errorf("remove replayed action: %w", err)
			}
			report.Replayed++
			continue
		}

		if action.RetryCount < q.cfg.MaxRetries {
			if err := q.store.UpdateRetryCount(ctx, action.ID, action.RetryCount+1); err != nil {
				return report, fmt.Errorf("update retry count: %w", err)
			}
			report.Retrying++
			q.logger.Warn("replay_attempt_failed",
				"action_id", action.ID,
				"kind", action.Kind,
				"entity", action.TargetEntity,
				"retry_count", action.RetryCount+1,
				"error", replayErr,
			)
			continue
		}

		if err := q.store.Delete(ctx, action.ID); err != nil {
			return report, fmt.Errorf("drop failed action: %w", err)
		}
		report.PermanentlyFailed = append(report.PermanentlyFailed, action)
		q.logger.Error("replay_action_dropped",
			"action_id", action.ID,
			"kind", action.Kind,
			"entity", action.TargetEntity,
			"error", replayErr,
		)
	}

	if len(actions) > 0 {
		q.logger.Info("replay_flush_done",
			"replayed", report.Replayed,
			"retrying", report.Retrying,
			"dropped", len(report.PermanentlyFailed),
		)
	}
	if report.Retrying > 0 {
		q.scheduleRetry()
	}
	return report, nil
}

// SetOnline records connectivity. Coming online flushes the queue; going
// offline only tells the user.
func (q *ReplayQueue) SetOnline(ctx context.Context, online bool) {
	previous := q.online.Swap(online)
	if previous == online {
		return
	}
	if !online {
		q.stopRetry()
		q.notify("warning", "Working offline. Changes will sync when the connection returns.")
		return
	}
	q.notify("info", "Connection restored. Syncing queued changes.")
	if _, err := q.Flush(ctx); err != nil {
		q.logger.Error("replay_flush_failed", "error", err)
	}
}

// Watch probes connectivity every interval until ctx is done.
func (q *ReplayQueue) Watch(ctx context.Context, probe ports.ConnectivityProbe, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplayRetryDelay
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		q.SetOnline(ctx, probe.Healthy(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops any scheduled re-flush.
func (q *ReplayQueue) Close() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}

func (q *ReplayQueue) replay(ctx context.Context, action domain.QueuedAction) error {
	switch action.Kind {
	case domain.ActionInsert:
		data, err := decodeActionData(action.Data)
		if err != nil {
			return err
		}
		return q.gateway.Insert(ctx, action.TargetEntity, data)
	case domain.ActionUpdate:
		id, err := action.EntityID()
		if err != nil {
			return err
		}
		patch, err := decodeActionData(action.Data)
		if err != nil {
			return err
		}
		delete(patch, "id")
		return q.gateway.Update(ctx, action.TargetEntity, id, patch)
	case domain.ActionDelete:
		id, err := action.EntityID()
		if err != nil {
			return err
		}
		return q.gateway.Delete(ctx, action.TargetEntity, id)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "replay action", fmt.Errorf("unknown kind %q", action.Kind))
	}
}

func (q *ReplayQueue) scheduleRetry() {
	if q.cfg.RetryDelay <= 0 {
		return
	}
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.closed || q.retryTimer != nil {
		return
	}
	q.retryTimer = time.AfterFunc(q.cfg.RetryDelay, func() {
		q.timerMu.Lock()
		q.retryTimer = nil
		q.timerMu.Unlock()
		if !q.Online() {
			return
		}
		if _, err := q.Flush(context.Background()); err != nil {
			q.logger.Error("replay_flush_failed", "error", err)
		}
	})
}

func (q *ReplayQueue) stopRetry() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}

func (q *ReplayQueue) notifyDropped(dropped []domain.QueuedAction) {
	if len(dropped) == 0 {
		return
	}
	byKind := map[domain.ActionKind]int{}
	for _, action := range dropped {
		byKind[action.Kind]++
	}
	for _, kind := range []domain.ActionKind{domain.ActionInsert, domain.ActionUpdate, domain.ActionDelete} {
		if n := byKind[kind]; n > 0 {
			q.notify("error", fmt.Sprintf("%d queued %s action(s) failed to sync and were discarded.", n, kind))
		}
	}
}

func (q *ReplayQueue) notify(level, message string) {
	if q.notifier != nil {
		q.notifier.Notify(level, message)
	}
}

func decodeActionData(raw json.RawMessage) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode action data", err)
	}
	return data, nil
}
