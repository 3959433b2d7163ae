package ontology

import (
	"time"
)

const (
	NotifyOnChange = "ONCHANGE"
)

type EntityRef struct {
	Type      string `json:"type"`
	IsPattern string `json:"isPattern"`
	ID        string `json:"id"`
}

type NotifyCondition struct {
	Type       string   `json:"type"`
	CondValues []string `json:"condValues"`
}

// SubscribeContextRequest is the body posted to /v1/subscribeContext.
type SubscribeContextRequest struct {
	Entities         []EntityRef       `json:"entities"`
	Attributes       []string          `json:"attributes"`
	Reference        string            `json:"reference"`
	Duration         string            `json:"duration"`
	NotifyConditions []NotifyCondition `json:"notifyConditions"`
	Throttling       string            `json:"throttling"`
}

type SubscribeResponse struct {
	SubscribeResponse struct {
		SubscriptionID string `json:"subscriptionId"`
		Duration       string `json:"duration,omitempty"`
		Throttling     string `json:"throttling,omitempty"`
	} `json:"subscribeResponse"`
}

type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

type UnsubscribeResponse struct {
	SubscriptionID string     `json:"subscriptionId"`
	StatusCode     StatusCode `json:"statusCode"`
}

// NotifyContextRequest is what the broker posts to a subscription's reference URL.
type NotifyContextRequest struct {
	SubscriptionID   string                   `json:"subscriptionId"`
	Originator       string                   `json:"originator"`
	ContextResponses []ContextElementResponse `json:"contextResponses"`
}

// Subscription is the local ledger record of a subscription we created.
type Subscription struct {
	SubscriptionID string     `json:"subscription_id" db:"subscription_id"`
	EntityID       string     `json:"entity_id" db:"entity_id"`
	EntityType     string     `json:"entity_type,omitempty" db:"entity_type"`
	Attributes     []string   `json:"attributes" db:"attributes"`
	Reference      string     `json:"reference" db:"reference"`
	Duration       string     `json:"duration" db:"duration"`
	Throttling     string     `json:"throttling" db:"throttling"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty" db:"last_notified_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

type CreateSubscriptionRequest struct {
	EntityID    string   `json:"entity_id" validate:"required"`
	EntityType  string   `json:"entity_type,omitempty"`
	Attributes  []string `json:"attributes"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Throttling  string   `json:"throttling,omitempty"`
}

// Notification is a received broker notification as stored in the ledger.
type Notification struct {
	NotificationID string    `json:"notification_id" db:"notification_id"`
	SubscriptionID string    `json:"subscription_id" db:"subscription_id"`
	Originator     string    `json:"originator,omitempty" db:"originator"`
	EntityIDs      []string  `json:"entity_ids" db:"entity_ids"`
	Payload        string    `json:"payload" db:"payload"`
	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
}
