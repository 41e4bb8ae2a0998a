package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/resilience"
)

const workerGroup = "ingest-workers"

// Queue carries ingestion job ids from the API to the workers. Delivery is
// at-most-once; a job lost in transit stays in "uploaded" and can be re-queued.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

var _ ports.MessageQueue = (*Queue)(nil)

type Options struct {
	ClientName           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.RetryOnFailedConnect == nil {
		retry := true
		o.RetryOnFailedConnect = &retry
	}
	if o.ClientName == "" {
		o.ClientName = "evidence-engine"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func New(url, subject string, options Options) (*Queue, error) {
	opts := options.withDefaults()
	logger := opts.Logger.With("component", "nats_queue", "subject", subject)

	conn, err := nats.Connect(url,
		nats.Name(opts.ClientName),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(*opts.RetryOnFailedConnect),
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
	return &Queue{conn: conn, subject: subject, executor: opts.ResilienceExecutor, logger: logger}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentIngested(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("empty job id"))
	}
	msg := jobMessage(q.subject, jobID)
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// SubscribeDocumentIngested blocks until ctx is done, then drains in-flight
// messages. Handler errors are logged; the job record carries the failure.
func (q *Queue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		jobID := jobIDOf(msg)
		if jobID == "" {
			q.logger.Warn("ingest_message_empty")
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, jobID); err != nil {
			q.logger.Error("ingest_job_handler_failed", "job_id", jobID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("ingest_subscription_started", "group", workerGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// jobMessage carries the job id as the body and as Nats-Msg-Id, so a
// JetStream-backed subject drops retried duplicates.
func jobMessage(subject, jobID string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, jobID)
	msg.Data = []byte(jobID)
	return msg
}

func jobIDOf(msg *nats.Msg) string {
	if id := strings.TrimSpace(string(msg.Data)); id != "" {
		return id
	}
	if msg.Header != nil {
		return strings.TrimSpace(msg.Header.Get(nats.MsgIdHdr))
	}
	return ""
}
