package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"collab-auth/internal/client"
	"collab-auth/internal/config"
	"collab-auth/internal/util"
)

// Notifier hands user-facing messages to the delivery pipeline. The auth core
// never sends email itself; it enqueues and moves on.
type Notifier interface {
	SendStepUpCode(ctx context.Context, userID, challengeID, code string) error
	SendSecurityAlert(ctx context.Context, userID, message string) error
}

type codeMessage struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// KafkaNotifier publishes notification requests to the notification topic.
// Per-challenge resend throttling lives here so a stuck client cannot flood
// the delivery pipeline.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	topic    string
	limiters *keyedLimiter
}

func NewKafkaNotifier(cfg *config.Config, producer *client.KafkaProducer) *KafkaNotifier {
	perMinute := cfg.MFA.ResendPerMinute
	if perMinute <= 0 {
		perMinute = 1
	}

	return &KafkaNotifier{
		producer: producer,
		topic:    cfg.Kafka.NotificationTopic,
		limiters: newKeyedLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (n *KafkaNotifier) SendStepUpCode(ctx context.Context, userID, challengeID, code string) error {
	if !n.limiters.Allow("challenge:" + challengeID) {
		return ErrThrottled
	}

	msg := codeMessage{
		Type:        "stepup_code",
		UserID:      userID,
		ChallengeID: challengeID,
		Code:        code,
		EnqueuedAt:  time.Now().UTC(),
	}

	return n.publish(ctx, userID, msg)
}

func (n *KafkaNotifier) SendSecurityAlert(ctx context.Context, userID, message string) error {
	msg := codeMessage{
		Type:       "security_alert",
		UserID:     userID,
		Message:    message,
		EnqueuedAt: time.Now().UTC(),
	}

	return n.publish(ctx, userID, msg)
}

func (n *KafkaNotifier) publish(ctx context.Context, key string, msg codeMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(key), payload, nil); err != nil {
		util.Error("Failed to enqueue notification",
			util.String("type", msg.Type),
			util.ErrorField(err))
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	return nil
}

// NopNotifier drops everything. Used in tests and when no broker is wired.
type NopNotifier struct{}

func (NopNotifier) SendStepUpCode(context.Context, string, string, string) error { return nil }
func (NopNotifier) SendSecurityAlert(context.Context, string, string) error      { return nil }
