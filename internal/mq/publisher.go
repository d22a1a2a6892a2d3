package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/treepeck/venthub/pkg/event"
)

// Time allowed to publish a single notification.
const publishWait = 5 * time.Second

/*
channel is the subset of [amqp091.Channel] used by the Publisher.
*/
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string,
		mandatory, immediate bool, msg amqp091.Publishing) error
}

/*
Publisher forwards notifications to the exchange.

The broker calls Notify while holding its lock, so notifications are only
buffered there and published by the Run goroutine.  When the buffer is full
the notification is dropped.
*/
type Publisher struct {
	ch       channel
	exchange string
	pending  chan event.Notification
	log      *slog.Logger
}

func NewPublisher(log *slog.Logger, ch channel, exchange string, size int) *Publisher {
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		pending:  make(chan event.Notification, size),
		log:      log,
	}
}

/*
Notify buffers the notification without blocking.
*/
func (p *Publisher) Notify(n event.Notification) {
	select {
	case p.pending <- n:
	default:
		p.log.Warn("notification dropped", "routing", n.Routing, "room_id", n.RoomId)
	}
}

/*
Run publishes the buffered notifications until the context is cancelled.
*/
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case n := <-p.pending:
			p.publish(ctx, n)

		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, n event.Notification) {
	ctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()

	err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		n.Routing,
		false,
		false,
		amqp091.Publishing{
			Body:        event.EncodeOrPanic(n),
			ContentType: "application/json",
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		p.log.Error("cannot publish a notification", "routing", n.Routing, "err", err)
	}
}
