// Package events publishes ingestion progress to Redis so other processes can
// follow bulk loads without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/council-search/pkg/logging"
)

// Redis channels
const (
	ChannelJobStarted      = "council.ingest_job.started"
	ChannelJobCompleted    = "council.ingest_job.completed"
	ChannelMeetingIngested = "council.meeting.ingested"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent stamped with the current time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "council-search",
		Version:   "1.0",
	}
}

// JobStartedEvent is published when an authority pass begins.
type JobStartedEvent struct {
	BaseEvent

	JobID     string `json:"job_id"`
	Authority string `json:"authority"`
	Provider  string `json:"provider"`
	Mode      string `json:"mode"`
	Total     int    `json:"total"`
}

// JobCompletedEvent is published when an authority pass finishes.
type JobCompletedEvent struct {
	BaseEvent

	JobID     string `json:"job_id"`
	Authority string `json:"authority"`
	Mode      string `json:"mode"`

	Total        int `json:"total"`
	Indexed      int `json:"indexed"`
	MetadataOnly int `json:"metadata_only"`
	Failed       int `json:"failed"`

	MeetingCount    int `json:"meeting_count"`
	TranscriptCount int `json:"transcript_count"`

	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
}

// MeetingIngestedEvent is published for every meeting written by a pass.
type MeetingIngestedEvent struct {
	BaseEvent

	JobID     string `json:"job_id"`
	Authority string `json:"authority"`
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Datetime  string `json:"datetime"`
	Outcome   string `json:"outcome"`
}

// Client is the subset of the Redis client used for publishing.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher publishes ingest events to Redis. A nil *Publisher is valid and
// publishes nothing.
type Publisher struct {
	client Client
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewPublisher creates a new event publisher.
func NewPublisher(client Client, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(ctx context.Context, cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return NewPublisher(client, logger), nil
}

// PublishJobStarted announces the start of an authority pass.
func (p *Publisher) PublishJobStarted(ctx context.Context, params JobStartedParams) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, ChannelJobStarted, JobStartedEvent{
		BaseEvent: NewBaseEvent("ingest_job.started"),
		JobID:     params.JobID,
		Authority: params.Authority,
		Provider:  params.Provider,
		Mode:      params.Mode,
		Total:     params.Total,
	})
}

// PublishJobCompleted announces the end of an authority pass.
func (p *Publisher) PublishJobCompleted(ctx context.Context, params JobCompletedParams) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, ChannelJobCompleted, JobCompletedEvent{
		BaseEvent:       NewBaseEvent("ingest_job.completed"),
		JobID:           params.JobID,
		Authority:       params.Authority,
		Mode:            params.Mode,
		Total:           params.Total,
		Indexed:         params.Indexed,
		MetadataOnly:    params.MetadataOnly,
		Failed:          params.Failed,
		MeetingCount:    params.MeetingCount,
		TranscriptCount: params.TranscriptCount,
		StartedAt:       params.StartedAt,
		CompletedAt:     params.CompletedAt,
		DurationSeconds: params.CompletedAt.Sub(params.StartedAt).Seconds(),
		Success:         params.Failed == 0,
	})
}

// PublishMeetingIngested announces one written meeting.
func (p *Publisher) PublishMeetingIngested(ctx context.Context, params MeetingIngestedParams) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, ChannelMeetingIngested, MeetingIngestedEvent{
		BaseEvent: NewBaseEvent("meeting.ingested"),
		JobID:     params.JobID,
		Authority: params.Authority,
		UID:       params.UID,
		Title:     params.Title,
		Datetime:  params.Datetime,
		Outcome:   params.Outcome,
	})
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}

// JobStartedParams contains parameters for publishing a job start.
type JobStartedParams struct {
	JobID     string
	Authority string
	Provider  string
	Mode      string
	Total     int
}

// JobCompletedParams contains parameters for publishing job completion.
type JobCompletedParams struct {
	JobID           string
	Authority       string
	Mode            string
	Total           int
	Indexed         int
	MetadataOnly    int
	Failed          int
	MeetingCount    int
	TranscriptCount int
	StartedAt       time.Time
	CompletedAt     time.Time
}

// MeetingIngestedParams contains parameters for publishing a meeting event.
type MeetingIngestedParams struct {
	JobID     string
	Authority string
	UID       string
	Title     string
	Datetime  string
	Outcome   string
}
