package app

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/gammarips/tool-service/internal/domain"
)

// SubscriberEventConsumer drops cached credentials when the account app reports a key
// or entitlement change, so the change applies before the cache TTL runs out.
type SubscriberEventConsumer struct {
	cache CacheInvalidator
}

func NewSubscriberEventConsumer(cache CacheInvalidator) *SubscriberEventConsumer {
	return &SubscriberEventConsumer{cache: cache}
}

// Bindings maps each routing key the consumer handles to its handler.
func (c *SubscriberEventConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.RoutingKeyKeyRotated:         c.HandleMessage,
		domain.RoutingKeyEntitlementChanged: c.HandleMessage,
	}
}

// HandleMessage invalidates the subscriber named in body. Malformed payloads are
// acknowledged and dropped since redelivery cannot fix them.
func (c *SubscriberEventConsumer) HandleMessage(body []byte) bool {
	var event domain.SubscriberChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=subscriber_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	subscriberID := strings.TrimSpace(event.SubscriberID)
	if subscriberID == "" {
		log.Printf("level=warn component=subscriber_consumer msg=\"missing subscriber id\" reason=%s", event.Reason)
		return true
	}

	removed := c.cache.Invalidate(subscriberID)
	log.Printf("level=info component=subscriber_consumer msg=\"credentials invalidated\" subscriber_id=%s reason=%s removed=%d", subscriberID, event.Reason, removed)
	return true
}
