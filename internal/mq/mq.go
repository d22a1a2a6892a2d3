/*
Package mq manages the connection with RabbitMQ and publishes room and queue
lifecycle notifications to a topic exchange, so that other services can follow
the matchmaking without talking to the WebSocket clients.
*/
package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

/*
Dialer wraps a single AMQP connection to RabbitMQ.  Only a single connection is
used, all publishing happens on one channel.
*/
type Dialer struct {
	Connection *amqp091.Connection
}

/*
NewDialer connects to the RabbitMQ using the specified URL.
*/
func NewDialer(url string) (Dialer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return Dialer{}, fmt.Errorf("cannot connect to RabbitMQ: %w", err)
	}

	return Dialer{Connection: conn}, nil
}

/*
OpenChannel opens a unique channel and puts it into a confirm mode, which allow
waiting for ACK or NACK from the server.
*/
func (d Dialer) OpenChannel() (*amqp091.Channel, error) {
	ch, err := d.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("cannot open a RabbitMQ channel: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("cannot put channel into confirm mode: %w", err)
	}
	return ch, nil
}

/*
DeclareTopology declares the topic exchange the notifications are published to.
Consumers bind their own queues using the routing keys declared in the event
package.
*/
func DeclareTopology(ch *amqp091.Channel, exchange string) error {
	err := ch.ExchangeDeclare(exchange, "topic", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("cannot declare exchange %q: %w", exchange, err)
	}
	return nil
}

/*
Release closes the AMQP connection and all channels opened on it.
*/
func (d Dialer) Release() {
	if d.Connection != nil {
		d.Connection.Close()
	}
}
