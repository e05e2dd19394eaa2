package consumer

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaReader builds a consumer-group reader over topics.
func NewKafkaReader(brokers []string, groupID string, topics ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         groupID,
		GroupTopics:     topics,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         250 * time.Millisecond,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
}
