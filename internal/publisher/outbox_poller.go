package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TopicCheckoutCompleted = "checkout-completed"
	batchSize              = 100
)

type Repository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	GetStuckSessions(ctx context.Context, olderThan time.Duration) ([]domain.CheckoutSession, error)
}

// Finisher runs the steps after payment for a session that stopped short of
// COMPLETED. checkout.Service implements it.
type Finisher interface {
	Resume(ctx context.Context, session *domain.CheckoutSession) error
}

// Writer is the part of *kafka.Writer the poller uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	EventTick    time.Duration
	RecoveryTick time.Duration
	// a paid session is stuck once it has not moved for this long
	StuckAfter time.Duration
	Logger     *zap.Logger
}

// OutboxPoller publishes committed outbox rows to Kafka and hands paid sessions that
// never completed back to the checkout.
type OutboxPoller struct {
	eventTick    time.Duration
	recoveryTick time.Duration
	stuckAfter   time.Duration
	repo         Repository
	writer       Writer
	finisher     Finisher
	log          *zap.Logger
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  TopicCheckoutCompleted,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo Repository, writer Writer, finisher Finisher, opts Options) *OutboxPoller {
	if opts.EventTick <= 0 {
		opts.EventTick = time.Second
	}
	if opts.RecoveryTick <= 0 {
		opts.RecoveryTick = 5 * time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &OutboxPoller{
		eventTick:    opts.EventTick,
		recoveryTick: opts.RecoveryTick,
		stuckAfter:   opts.StuckAfter,
		repo:         repo,
		writer:       writer,
		finisher:     finisher,
		log:          opts.Logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckSessions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.Error("failed to fetch outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			p.log.Error("failed to publish outbox event",
				zap.Int64("event_id", event.ID),
				zap.String("checkout_id", event.AggregateID),
				zap.Error(err),
			)
			continue
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error("failed to mark outbox event as processed",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}

// recoverStuckSessions finishes sessions left at PAYMENT_COMPLETED, e.g. when the
// process stopped between payment and writing the outbox row. The sale, the
// reservation and the cart are settled the same way a live checkout settles them.
func (p *OutboxPoller) recoverStuckSessions(ctx context.Context) {
	sessions, err := p.repo.GetStuckSessions(ctx, p.stuckAfter)
	if err != nil {
		p.log.Error("failed to get stuck sessions", zap.Error(err))
		return
	}

	for i := range sessions {
		session := &sessions[i]
		log := p.log.With(zap.String("checkout_id", session.ID))
		log.Info("recovering stuck session")

		if len(session.Breakdowns) == 0 {
			log.Error("stuck session has no breakdowns, skipping")
			continue
		}

		if err := p.finisher.Resume(ctx, session); err != nil {
			log.Error("failed to recover stuck session",
				zap.String("status", session.Status.String()),
				zap.Error(err),
			)
			continue
		}
		log.Info("session recovered")
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // checkout id keeps one checkout on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
