package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"collab-auth/internal/bucketing"
	"collab-auth/internal/client"
	"collab-auth/internal/config"
	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

// Recorder is the single write path for the security event log. Every
// authentication decision and admin action goes through Record.
type Recorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// ClickHouseSink is the archive write surface. Satisfied by the ClickHouse
// client; tests substitute a capture.
type ClickHouseSink interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// StreamSink publishes events for downstream consumers.
type StreamSink interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// SearchSink indexes events for the admin search surface.
type SearchSink interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

const insertEventCQL = `INSERT INTO security_events (
    event_bucket, event_id, user_id, event_type, actor, ip_address,
    fingerprint_hash, session_id, risk_score, details, event_time)`

// MultiRecorder fans an event out to the archive, the stream and the search
// index. Sink failures are logged and absorbed: the audit trail must never
// fail an authentication that already happened.
type MultiRecorder struct {
	clickhouse ClickHouseSink
	stream     StreamSink
	search     SearchSink
	buckets    *bucketing.BucketingManager
	topic      string
	index      string
}

func NewMultiRecorder(
	cfg *config.Config,
	ch *client.ClickHouseClient,
	producer *client.KafkaProducer,
	es *client.ESClient,
	buckets *bucketing.BucketingManager,
) *MultiRecorder {
	r := &MultiRecorder{
		buckets: buckets,
		topic:   cfg.Kafka.SecurityEventTopic,
		index:   cfg.Elasticsearch.Index,
	}
	if ch != nil {
		r.clickhouse = ch
	}
	if producer != nil {
		r.stream = producer
	}
	if es != nil {
		r.search = esSink{client: es}
	}
	return r
}

// esSink narrows the Elasticsearch client to the recorder's needs and folds
// document-level errors into the error return.
type esSink struct {
	client *client.ESClient
}

func (s esSink) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	res, err := s.client.IndexDocument(ctx, index, id, document)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index failed: %s", res.Status())
	}
	return nil
}

// NewMultiRecorderWithSinks wires arbitrary sinks. Tests use it.
func NewMultiRecorderWithSinks(cfg *config.Config, ch ClickHouseSink, stream StreamSink, search SearchSink, buckets *bucketing.BucketingManager) *MultiRecorder {
	return &MultiRecorder{
		clickhouse: ch,
		stream:     stream,
		search:     search,
		buckets:    buckets,
		topic:      cfg.Kafka.SecurityEventTopic,
		index:      cfg.Elasticsearch.Index,
	}
}

func (r *MultiRecorder) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	if r.buckets != nil {
		event.EventBucket = r.buckets.GetEventBucket(event.UserID)
	}

	if r.clickhouse != nil {
		row := []interface{}{
			event.EventBucket, event.EventID, event.UserID, event.EventType,
			event.Actor, event.IPAddress, event.FingerprintHash, event.SessionID,
			event.RiskScore, event.Details, event.EventTime,
		}
		if err := r.clickhouse.BatchInsert(ctx, insertEventCQL, [][]interface{}{row}); err != nil {
			util.Error("Failed to archive security event",
				util.String("event_id", event.EventID),
				util.String("event_type", event.EventType),
				util.ErrorField(err))
		}
	}

	if r.stream != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("Failed to marshal security event", util.ErrorField(err))
		} else if err := r.stream.ProduceMessage(ctx, r.topic, []byte(event.UserID), payload, nil); err != nil {
			util.Error("Failed to publish security event",
				util.String("event_id", event.EventID),
				util.ErrorField(err))
		}
	}

	if r.search != nil {
		if err := r.search.IndexDocument(ctx, r.index, event.EventID, event); err != nil {
			util.Error("Failed to index security event",
				util.String("event_id", event.EventID),
				util.ErrorField(err))
		}
	}

	util.Debug("Security event recorded",
		util.String("event_id", event.EventID),
		util.String("event_type", event.EventType),
		util.String("user_id", event.UserID))
}

// NopRecorder drops events. Tests that do not assert on the audit trail
// use it.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *models.SecurityEvent) {}
