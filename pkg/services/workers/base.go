package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Handler processes one message. A returned error naks the message so the
// durable consumer redelivers it, up to its MaxDeliver.
type Handler func(ctx context.Context, msg *nats.Msg) error

type BaseWorker struct {
	name      string
	js        nats.JetStreamContext
	sub       *nats.Subscription
	consumer  string
	stream    string
	subject   string
	batchSize int
	maxWait   time.Duration
}

func NewBaseWorker(name string, js nats.JetStreamContext, stream, consumer, subject string) *BaseWorker {
	return &BaseWorker{
		name:      name,
		js:        js,
		consumer:  consumer,
		stream:    stream,
		subject:   subject,
		batchSize: 10,
		maxWait:   2 * time.Second,
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Stop() error {
	if w.sub != nil {
		return w.sub.Drain()
	}
	return nil
}

func (w *BaseWorker) processMessages(ctx context.Context, handler Handler) error {
	sub, err := w.js.PullSubscribe(w.subject, w.consumer,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.Bind(w.stream, w.consumer),
	)
	if err != nil {
		return err
	}
	w.sub = sub

	log.Printf("[%s] Starting worker for stream: %s, consumer: %s", w.name, w.stream, w.consumer)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] Worker stopping", w.name)
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(w.batchSize, nats.MaxWait(w.maxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			log.Printf("[%s] Error fetching messages: %v", w.name, err)
			continue
		}

		for _, msg := range msgs {
			if err := handler(ctx, msg); err != nil {
				log.Printf("[%s] Failed to process message on %s: %v", w.name, msg.Subject, err)
				if err := msg.Nak(); err != nil {
					log.Printf("[%s] Error naking message: %v", w.name, err)
				}
				continue
			}
			if err := msg.Ack(); err != nil {
				log.Printf("[%s] Error acknowledging message: %v", w.name, err)
			}
		}
	}
}
