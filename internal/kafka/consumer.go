package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// AlertQueue accepts alerts for asynchronous creation and dispatch.
type AlertQueue interface {
	QueueAlert(in models.AlertCreate)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads alert messages from a topic and hands them to the service queue.
type Consumer struct {
	reader messageReader
	queue  AlertQueue
	logger *logging.Logger
}

func NewConsumer(cfg Config, queue AlertQueue, logger *logging.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: reader, queue: queue, logger: logger}
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Kafka consumer started")
		c.run(ctx)
		c.logger.Info("Kafka consumer stopped")
	}()
}

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Errorf("Read message failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		in, err := decodeAlertMessage(msg.Value)
		if err != nil {
			c.logger.Errorf("Skipping message at %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			continue
		}
		c.queue.QueueAlert(in)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// decodeAlertMessage checks only the message shape; field rules are enforced on creation.
func decodeAlertMessage(value []byte) (models.AlertCreate, error) {
	var in models.AlertCreate
	if err := json.Unmarshal(value, &in); err != nil {
		return models.AlertCreate{}, fmt.Errorf("unmarshal message failed: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return models.AlertCreate{}, errors.New("invalid message: missing title or description")
	}
	return in, nil
}
