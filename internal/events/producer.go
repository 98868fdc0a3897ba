package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"raffle-service/internal/logger"
)

// SaleRecorded is published after a sale lands in the ledger.
type SaleRecorded struct {
	RaffleID   string    `json:"raffle_id"`
	Quantity   int       `json:"quantity"`
	Remaining  int       `json:"remaining"`
	TotalSold  int       `json:"total_sold"`
	TicketNos  []string  `json:"ticket_nos,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StateResynced is published after an administrative resync.
type StateResynced struct {
	RaffleID   string    `json:"raffle_id"`
	Remaining  int       `json:"remaining"`
	ResyncedAt time.Time `json:"resynced_at"`
}

// Producer publishes raffle events. In mock mode (dev environments
// without a broker) events are logged and dropped.
type Producer struct {
	Writer      *kafka.Writer
	SaleTopic   string
	ResyncTopic string
	MockMode    bool
	Logger      *logger.Logger
}

func NewProducer(brokers []string, saleTopic, resyncTopic string, mockMode bool, log *logger.Logger) *Producer {
	var writer *kafka.Writer
	if !mockMode {
		writer = &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		}
	}
	return &Producer{
		Writer:      writer,
		SaleTopic:   saleTopic,
		ResyncTopic: resyncTopic,
		MockMode:    mockMode,
		Logger:      log,
	}
}

func (p *Producer) PublishSaleRecorded(ctx context.Context, event SaleRecorded) error {
	return p.publish(ctx, p.SaleTopic, event.RaffleID, event)
}

func (p *Producer) PublishStateResynced(ctx context.Context, event StateResynced) error {
	return p.publish(ctx, p.ResyncTopic, event.RaffleID, event)
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if p.MockMode {
		if p.Logger != nil {
			p.Logger.Info("KAFKA", fmt.Sprintf("[mock] %s: %s", topic, string(msgBytes)))
		}
		return nil
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
}

func (p *Producer) Close() error {
	if p.Writer != nil {
		return p.Writer.Close()
	}
	return nil
}

// EnsureTopicsExist creates the raffle topics if they are missing.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	return controllerConn.CreateTopics(configs...)
}
