package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/crisis-data-service/internal/config"
	"github.com/couchcryptid/crisis-data-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Message header keys set on every published feature.
const (
	HeaderSeverityBucket = "severity_bucket"
	HeaderRunID          = "run_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes merged crisis-map features to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured map topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaMapTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one message per feature in a single WriteMessages call. The
// key is the feature's country code so updates for a country land on the
// same partition. Features without a code are skipped.
func (w *Writer) Publish(ctx context.Context, runID string, fc domain.FeatureCollection) (int, error) {
	msgs := make([]kafkago.Message, 0, len(fc.Features))
	for i := range fc.Features {
		msg, ok, err := serializeFeature(runID, fc.Features[i])
		if err != nil {
			return 0, err
		}
		if !ok {
			w.logger.Debug("skipping feature without identifier", "run_id", runID, "index", i)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write %d map features: %w", len(msgs), err)
	}
	return len(msgs), nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeFeature marshals a merged feature into a Kafka message.
func serializeFeature(runID string, f domain.Feature) (kafkago.Message, bool, error) {
	id, ok := domain.FeatureIdentifier(f.Properties)
	if !ok {
		return kafkago.Message{}, false, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return kafkago.Message{}, false, fmt.Errorf("serialize feature %s: %w", id, err)
	}
	bucket, _ := f.Properties[domain.BucketProperty].(string)
	return kafkago.Message{
		Key:   []byte(id),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderSeverityBucket, Value: []byte(bucket)},
			{Key: HeaderRunID, Value: []byte(runID)},
		},
	}, true, nil
}
