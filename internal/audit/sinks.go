package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"admin-auth/internal/models"
	"admin-auth/internal/util"
)

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, events []models.SecurityEvent) error {
	for _, ev := range events {
		util.Info("Security event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.EventType)),
			zap.String("account_id", ev.AccountID),
			zap.String("email", ev.Email),
			zap.String("ip", ev.IPAddress),
			zap.Bool("success", ev.Success),
			zap.String("details", ev.Details),
			zap.Time("occurred_at", ev.OccurredAt))
	}
	return nil
}

func (LogSink) Close() error { return nil }

// MessageWriter is satisfied by client.KafkaProducer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event as JSON keyed by account id, so one
// account's events stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode security event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.AccountID),
			Value: value,
			Time:  ev.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
			},
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// EventTable is satisfied by client.ClickHouseClient.
type EventTable interface {
	CreateEventTable(ctx context.Context, table string) error
	InsertEvents(ctx context.Context, table string, rows [][]interface{}) error
	Close() error
}

// ClickHouseSink appends events to a MergeTree table for long-term analysis.
type ClickHouseSink struct {
	db    EventTable
	table string
}

func NewClickHouseSink(ctx context.Context, db EventTable, table string) (*ClickHouseSink, error) {
	if err := db.CreateEventTable(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", table, err)
	}
	return &ClickHouseSink{db: db, table: table}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []interface{}{
			ev.ID, string(ev.EventType), ev.AccountID, ev.Email, ev.IPAddress,
			ev.UserAgent, ev.Success, ev.Details, ev.OccurredAt,
		})
	}
	return s.db.InsertEvents(ctx, s.table, rows)
}

func (s *ClickHouseSink) Close() error { return s.db.Close() }

// DocumentIndexer is satisfied by client.ESClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes events for interactive search; event ids are
// document ids so a retried batch does not duplicate.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	for _, ev := range events {
		if err := s.indexer.IndexDocument(ctx, s.index, ev.ID, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *ElasticsearchSink) Close() error { return nil }
