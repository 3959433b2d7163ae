package shared

import (
	"fmt"
	"strings"
)

// NATS Subject patterns
const (
	SubjectPrefix = "orion"

	// Notification subjects
	SubjectNotifications    = "orion.notifications"
	SubjectNotificationsAll = "orion.notifications.>"
	SubjectNotification     = "orion.notifications.%s" // subscription_id

	// Subscription lifecycle subjects
	SubjectSubscriptions       = "orion.subscriptions"
	SubjectSubscriptionsAll    = "orion.subscriptions.>"
	SubjectSubscriptionCreated = "orion.subscriptions.%s.created"   // subscription_id
	SubjectSubscriptionCancel  = "orion.subscriptions.%s.cancelled" // subscription_id
)

// Stream names
const (
	StreamNotifications = "ORION_NOTIFICATIONS"
	StreamSubscriptions = "ORION_SUBSCRIPTIONS"
)

// Consumer names
const (
	ConsumerNotificationRecorder = "notification-recorder"
	ConsumerSubscriptionAuditor  = "subscription-auditor"
)

// subjectToken makes an id safe to use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

func NotificationSubject(subscriptionID string) string {
	return fmt.Sprintf(SubjectNotification, subjectToken(subscriptionID))
}

func SubscriptionCreatedSubject(subscriptionID string) string {
	return fmt.Sprintf(SubjectSubscriptionCreated, subjectToken(subscriptionID))
}

func SubscriptionCancelledSubject(subscriptionID string) string {
	return fmt.Sprintf(SubjectSubscriptionCancel, subjectToken(subscriptionID))
}
