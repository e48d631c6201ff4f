package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeSubmission        EventType = "submission"
	EventTypePrequeueSubmitted EventType = "prequeue_submitted"
	EventTypePrequeueApproved  EventType = "prequeue_approved"
	EventTypePrequeueDeclined  EventType = "prequeue_declined"
	EventTypeVoteChanged       EventType = "vote_changed"
	EventTypeSettingsChanged   EventType = "settings_changed"
	EventTypeCooldownReset     EventType = "cooldown_reset"
	EventTypeIdentityStatus    EventType = "identity_status"
)

type Event struct {
	Type       EventType       `json:"type"`
	IdentityID string          `json:"identity_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(t EventType, identityID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Event{Type: t, IdentityID: identityID, Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// Publisher delivers domain events. Publication is best effort; callers log failures.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

var ErrWriterOnly = errors.New("kafka client has no consumer group")

type KafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

var _ Publisher = (*KafkaClient)(nil)

// NewKafkaClient publishes to topic. With a groupID it also consumes; an empty
// groupID gives a writer-only client that never joins a consumer group.
func NewKafkaClient(brokers []string, topic string, groupID string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	client := &KafkaClient{writer: writer}
	if groupID != "" {
		client.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
		})
	}
	return client
}

// InstanceGroup derives a consumer group owned by this process alone, so every
// instance reads every partition instead of sharing them with its peers.
func InstanceGroup(base string) string {
	return base + "-" + uuid.New().String()
}

func (k *KafkaClient) Publish(ctx context.Context, event Event) error {
	messageJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := event.IdentityID
	if key == "" {
		key = uuid.New().String()
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: messageJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// ConsumeEvents blocks, handing each event to handler until ctx is done.
func (k *KafkaClient) ConsumeEvents(ctx context.Context, handler func(Event) error) error {
	if k.reader == nil {
		return ErrWriterOnly
	}
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			continue
		}

		if err := handler(event); err != nil {
			return fmt.Errorf("failed to handle event: %w", err)
		}
	}
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if k.reader == nil {
		return nil
	}
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}

// Event payload types
type SubmissionPayload struct {
	TrackID    string `json:"track_id,omitempty"`
	TrackName  string `json:"track_name,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Outcome    string `json:"outcome"`
	PrequeueID string `json:"prequeue_id,omitempty"`
}

type PrequeuePayload struct {
	EntryID    string `json:"entry_id"`
	TrackID    string `json:"track_id"`
	TrackName  string `json:"track_name"`
	Artist     string `json:"artist"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

type VotePayload struct {
	TrackID  string `json:"track_id"`
	UserVote *int   `json:"user_vote"`
	NetVotes int    `json:"net_votes"`
}

type SettingsPayload struct {
	Keys []string `json:"keys"`
}

type CooldownResetPayload struct {
	All bool `json:"all"`
}

type IdentityStatusPayload struct {
	Status string `json:"status"`
}
