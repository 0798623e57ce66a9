package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DataExchange is the headers-matched exchange scan and historical
// publishes target.
const DataExchange = "x-data-agent.data"

// AMQPPublisher publishes to a headers exchange on an established AMQP
// channel. Dial first checks passively that the exchange exists and, if
// that check fails, declares it on a fresh channel; only a failure of
// that declaration makes Dial return an error.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to the broker at url and opens a single channel for
// publishing.
func Dial(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclarePassive(DataExchange, amqp.ExchangeHeaders, true, false, false, false, nil); err != nil {
		// Fall back to declaring it: a fresh broker in a dev/test
		// environment will not have it yet.
		ch, err = conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("bus: reopen channel after passive declare failure: %w", err)
		}
		if err := ch.ExchangeDeclare(DataExchange, amqp.ExchangeHeaders, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bus: declare exchange %s: %w", DataExchange, err)
		}
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, headers map[string]any, contentType string, body []byte) error {
	return p.channel.PublishWithContext(ctx, DataExchange, "", false, false, amqp.Publishing{
		Headers:     amqp.Table(headers),
		ContentType: contentType,
		Body:        body,
	})
}
