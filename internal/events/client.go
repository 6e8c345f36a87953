// Package events publishes and consumes reward-ledger messages over AMQP.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// Client wraps an AMQP connection with a durable direct exchange and the two
// queues the system uses: one for ledger events, one for evaluation jobs.
type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewClient(url, exchange string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	for _, key := range []string{KeyLedgerEvents, KeyEvaluationJobs} {
		if _, err := ch.QueueDeclare(key, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", key, err)
		}
		if err := ch.QueueBind(key, key, exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", key, err)
		}
	}

	return &Client{conn: conn, channel: ch, exchange: exchange}, nil
}

func (c *Client) publish(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return c.channel.PublishWithContext(ctx, c.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (c *Client) publishEvent(ctx context.Context, eventType string, payload any) error {
	env, err := newEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	body, err := env.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.publish(ctx, KeyLedgerEvents, body); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (c *Client) PublishRewardCredited(ctx context.Context, msg *RewardCreditedMessage) error {
	return c.publishEvent(ctx, TypeRewardCredited, msg)
}

func (c *Client) PublishTierChanged(ctx context.Context, msg *TierChangedMessage) error {
	return c.publishEvent(ctx, TypeTierChanged, msg)
}

func (c *Client) PublishStreakUpdated(ctx context.Context, msg *StreakUpdatedMessage) error {
	return c.publishEvent(ctx, TypeStreakUpdated, msg)
}

func (c *Client) PublishPeriodAdvanced(ctx context.Context, msg *PeriodAdvancedMessage) error {
	return c.publishEvent(ctx, TypePeriodAdvanced, msg)
}

func (c *Client) PublishVaultDeposit(ctx context.Context, msg *VaultDepositMessage) error {
	return c.publishEvent(ctx, TypeVaultDeposit, msg)
}

func (c *Client) PublishEvaluationJob(ctx context.Context, msg *EvaluationJobMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal evaluation job: %w", err)
	}
	if err := c.publish(ctx, KeyEvaluationJobs, body); err != nil {
		return fmt.Errorf("publish evaluation job: %w", err)
	}
	return nil
}

// ConsumeEvaluationJobs delivers evaluation jobs to handler one at a time.
// A handler error nacks the message back onto the queue; malformed messages
// are dropped. Blocks until ctx is cancelled or the channel closes.
func (c *Client) ConsumeEvaluationJobs(ctx context.Context, handler func(context.Context, *EvaluationJobMessage) error) error {
	deliveries, err := c.channel.Consume(KeyEvaluationJobs, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", KeyEvaluationJobs, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			msg, err := EvaluationJobMessageFromJSON(d.Body)
			if err != nil {
				slog.Error("discarding malformed evaluation job", "error", err)
				d.Nack(false, false)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				slog.Error("evaluation job failed", "job_id", msg.JobID, "account", msg.Account, "error", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
