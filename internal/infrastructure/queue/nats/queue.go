package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const (
	SubjectJobCreated          = "jobs.created"
	SubjectJobStatus           = "jobs.status"
	SubjectBatchProgress       = "batches.progress"
	SubjectExtractionCompleted = "extraction.completed"

	workersQueue = "workers"
)

// Bus carries job triggers, job status updates, batch progress and
// late extraction results over one NATS connection.
type Bus struct {
	conn     *nats.Conn
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func Connect(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "intake-scheduler"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// TriggerJob publishes the bare job id, the same wire shape workers have
// always consumed.
func (b *Bus) TriggerJob(ctx context.Context, jobID string) error {
	return b.publish(ctx, SubjectJobCreated, []byte(jobID))
}

func (b *Bus) PublishJobUpdate(ctx context.Context, update domain.JobUpdate) error {
	return b.publishJSON(ctx, SubjectJobStatus, update)
}

func (b *Bus) PublishBatchProgress(ctx context.Context, progress domain.BatchProgress) error {
	return b.publishJSON(ctx, SubjectBatchProgress, progress)
}

func (b *Bus) PublishExtractionEvent(ctx context.Context, event domain.ExtractionEvent) error {
	return b.publishJSON(ctx, SubjectExtractionCompleted, event)
}

func (b *Bus) publishJSON(ctx context.Context, subject string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	return b.publish(ctx, subject, raw)
}

func (b *Bus) publish(ctx context.Context, subject string, data []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		// One breaker per subject keeps a stuck trigger path from muting progress events.
		err = b.executor.Execute(ctx, "nats.publish."+subject, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(subject, err)
}

// ConsumeJobs delivers each triggered job id to exactly one worker of the
// queue group and blocks until ctx is done.
func (b *Bus) ConsumeJobs(ctx context.Context, handler func(context.Context, string) error) error {
	return b.consume(ctx, SubjectJobCreated, func(handlerCtx context.Context, data []byte) error {
		return handler(handlerCtx, string(data))
	})
}

// ConsumeExtractionEvents delivers late extraction results to one worker.
func (b *Bus) ConsumeExtractionEvents(ctx context.Context, handler func(context.Context, domain.ExtractionEvent) error) error {
	return b.consume(ctx, SubjectExtractionCompleted, func(handlerCtx context.Context, data []byte) error {
		event, err := decodeMessage[domain.ExtractionEvent](data)
		if err != nil {
			return err
		}
		return handler(handlerCtx, event)
	})
}

func (b *Bus) consume(ctx context.Context, subject string, handle func(context.Context, []byte) error) error {
	sub, err := b.conn.QueueSubscribe(subject, workersQueue, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg.Data); err != nil {
			b.logger.Error("queue_handler_failed", "subject", subject, "payload", truncate(msg.Data, 128), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// WatchJobUpdates fans every job update out to this process. Every API
// instance receives every update.
func (b *Bus) WatchJobUpdates(handler func(domain.JobUpdate)) (func(), error) {
	return watch(b, SubjectJobStatus, handler)
}

func (b *Bus) WatchBatchProgress(handler func(domain.BatchProgress)) (func(), error) {
	return watch(b, SubjectBatchProgress, handler)
}

func watch[T any](b *Bus, subject string, handler func(T)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		value, err := decodeMessage[T](msg.Data)
		if err != nil {
			b.logger.Warn("queue_message_dropped", "subject", subject, "error", err)
			return
		}
		handler(value)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("nats_unsubscribe_failed", "subject", subject, "error", err)
		}
	}, nil
}

func decodeMessage[T any](data []byte) (T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return value, domain.WrapError(domain.ErrInvalidInput, "decode message", err)
	}
	return value, nil
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
