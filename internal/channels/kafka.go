package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
)

// KafkaRecord is the JSON value of inbound and outbound Kafka messages.
type KafkaRecord struct {
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel consumes chat records from one topic and produces replies to
// another. Records are keyed by chat so a conversation stays on one
// partition.
type KafkaChannel struct {
	BaseChannel
	config config.KafkaConfig
	reader messageReader
	writer messageWriter
}

// NewKafkaChannel creates a Kafka channel for cfg.
func NewKafkaChannel(cfg config.KafkaConfig, b Publisher) (*KafkaChannel, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.InboundTopic == "" || cfg.OutboundTopic == "" {
		return nil, errors.New("kafka: inbound_topic and outbound_topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.InboundTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OutboundTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaChannel(cfg, b, reader, writer), nil
}

func newKafkaChannel(cfg config.KafkaConfig, b Publisher, r messageReader, w messageWriter) *KafkaChannel {
	return &KafkaChannel{
		BaseChannel: NewBaseChannel("kafka", b, cfg.AllowFrom),
		config:      cfg,
		reader:      r,
		writer:      w,
	}
}

// Start consumes the inbound topic until ctx is cancelled.
func (c *KafkaChannel) Start(ctx context.Context) error {
	slog.Info("Kafka channel consuming", "topic", c.config.InboundTopic, "group", c.config.GroupID)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			slog.Warn("Kafka read error", "topic", c.config.InboundTopic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.handleRecord(msg)
	}
}

func (c *KafkaChannel) handleRecord(msg kafka.Message) {
	var rec KafkaRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		slog.Warn("Skipping malformed Kafka record", "offset", msg.Offset, "error", err)
		return
	}
	chatID := strings.TrimSpace(rec.ChatID)
	if chatID == "" {
		chatID = string(msg.Key)
	}
	if chatID == "" || strings.TrimSpace(rec.Content) == "" {
		slog.Warn("Skipping Kafka record without chat_id or content", "offset", msg.Offset)
		return
	}
	c.HandleMessage(&bus.InboundMessage{
		ChatID:     chatKey(c.Name(), chatID),
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		TraceID:    rec.TraceID,
		Content:    rec.Content,
		Timestamp:  rec.Timestamp,
	})
}

// Stop closes the reader and writer.
func (c *KafkaChannel) Stop() error {
	return errors.Join(c.reader.Close(), c.writer.Close())
}

// Send produces a reply record keyed by the native chat ID.
func (c *KafkaChannel) Send(ctx context.Context, chatID, text string) error {
	native := nativeID(c.Name(), chatID)
	value, err := json.Marshal(KafkaRecord{
		ChatID:    native,
		SenderID:  "joshbot",
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode kafka record: %w", err)
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(native), Value: value}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
