/**
 * @description
 * Publishes tool-service events to the shared topic exchange: usage records once
 * they are persisted, and key rotations so other replicas drop cached credentials.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by EventProducer and EventProducerFallback.
type Publisher interface {
	PublishUsageRecorded(ctx context.Context, event domain.UsageRecordedEvent) error
	PublishKeyRotated(ctx context.Context, event domain.SubscriberChangedEvent) error
	Close()
}

// EventProducerFallback drops events when RabbitMQ was unreachable at startup.
type EventProducerFallback struct{}

func (EventProducerFallback) PublishUsageRecorded(context.Context, domain.UsageRecordedEvent) error {
	return nil
}

func (EventProducerFallback) PublishKeyRotated(_ context.Context, event domain.SubscriberChangedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"key rotation event not published\" subscriber_id=%s", event.SubscriberID)
	return nil
}

func (EventProducerFallback) Close() {}

// EventProducer publishes JSON events on domain.EventsExchange. A failed publish
// drops the channel and the next publish opens a fresh one.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewEventProducer dials amqpURL and declares the events exchange.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	amqpURL = strings.Trim(strings.TrimSpace(amqpURL), "\"'")
	if _, err := amqp091.ParseURI(amqpURL); err != nil {
		return nil, fmt.Errorf("rabbitmq url: %w", err)
	}

	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	p := &EventProducer{conn: conn}
	if _, err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel must be called with p.mu held, or before p is shared.
func (p *EventProducer) openChannel() (*amqp091.Channel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(domain.EventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", domain.EventsExchange, err)
	}
	p.channel = ch
	return ch, nil
}

func (p *EventProducer) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.openChannel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, domain.EventsExchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; channel will be reopened\" routing_key=%s err=%v", routingKey, err)
		ch.Close()
		p.channel = nil
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// PublishUsageRecorded publishes a persisted usage record for billing and analytics.
func (p *EventProducer) PublishUsageRecorded(ctx context.Context, event domain.UsageRecordedEvent) error {
	return p.publish(ctx, domain.RoutingKeyUsageRecorded, event)
}

// PublishKeyRotated tells every replica to drop cached credentials for the subscriber.
func (p *EventProducer) PublishKeyRotated(ctx context.Context, event domain.SubscriberChangedEvent) error {
	return p.publish(ctx, domain.RoutingKeyKeyRotated, event)
}

// Close closes the channel and the connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	p.conn.Close()
}
