/**
 * @description
 * Event payloads exchanged over RabbitMQ. The account web app publishes key and
 * entitlement changes; the tool-service publishes usage and its own key rotations.
 */

package domain

import "time"

const (
	// EventsExchange is the topic exchange all tool-service events flow through.
	EventsExchange = "gammarips.events"

	RoutingKeyUsageRecorded      = "usage.recorded"
	RoutingKeyKeyRotated         = "subscriber.key.rotated"
	RoutingKeyEntitlementChanged = "subscriber.entitlement.changed"
)

// SubscriberChangedEvent signals that cached credentials for a subscriber are stale.
type SubscriberChangedEvent struct {
	SubscriberID string    `json:"subscriber_id"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// UsageRecordedEvent is the wire form of a UsageRecord.
type UsageRecordedEvent struct {
	UsageRecord
	PublishedAt time.Time `json:"published_at"`
}
