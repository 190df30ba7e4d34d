package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"

	"bullionwatch/internal/rates"
)

// Encodings supported by KafkaPublisher.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

const publishTimeout = 10 * time.Second

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configure the publisher.
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	Encoding string
}

// KafkaPublisher forwards snapshots and failures to a topic.
type KafkaPublisher struct {
	writer   MessageWriter
	encoding string
	logger   zerolog.Logger
}

// NewKafkaPublisher connects a writer to the configured brokers.
func NewKafkaPublisher(opts KafkaOptions, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, opts.Encoding, logger), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, encoding string, logger zerolog.Logger) *KafkaPublisher {
	if encoding == "" {
		encoding = EncodingJSON
	}
	return &KafkaPublisher{
		writer:   w,
		encoding: encoding,
		logger:   logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

func (p *KafkaPublisher) OnSnapshotReady(s rates.Snapshot) {
	p.publish([]byte(s.ID.String()), SnapshotMessage(s))
}

func (p *KafkaPublisher) OnRefreshFailed(err error) {
	p.publish(nil, FailureMessage(err))
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(key []byte, msg Message) {
	value, err := Encode(msg, p.encoding)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "encoding", Value: []byte(p.encoding)},
		},
	})
	if err != nil {
		p.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to publish message")
	}
}

// Encode serialises msg in the named encoding.
func Encode(msg Message, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(msg)
	case EncodingMsgpack:
		return msgpack.Marshal(msg)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

var _ Listener = (*KafkaPublisher)(nil)
