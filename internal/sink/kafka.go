package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one line-protocol point per message, keyed by the
// record's sensor tag so a sensor's points stay ordered within a partition.
type KafkaSink struct {
	ctx    context.Context
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka sink needs brokers and topic", ErrOpenSink)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(ctx, w), nil
}

func newKafkaSink(ctx context.Context, w messageWriter) *KafkaSink {
	return &KafkaSink{ctx: ctx, writer: w}
}

func (ks *KafkaSink) Write(record any) error {
	return ks.WriteBatch([]any{record})
}

func (ks *KafkaSink) WriteBatch(records []any) error {
	var msgs []kafka.Message
	for _, record := range records {
		recs, err := recordsOf(record)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.Fields.Len() == 0 {
				continue
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(r.Tags["sensor"]),
				Value: []byte(LineProtocol(r)),
				Headers: []kafka.Header{
					{Key: "measurement", Value: []byte(r.Measurement)},
				},
			})
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := ks.writer.WriteMessages(ks.ctx, msgs...); err != nil {
		return fmt.Errorf("%w: kafka: %v", ErrWriteSink, err)
	}
	return nil
}

func (ks *KafkaSink) Close() error {
	return ks.writer.Close()
}
