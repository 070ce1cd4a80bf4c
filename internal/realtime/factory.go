package realtime

import (
	"log"
	"strings"

	"github.com/planhub/backend/internal/config"
)

// NewBroker picks the broker backend from configuration: Kafka when
// KAFKA_BROKERS is set, Redis Pub/Sub when REDIS_URL is set, otherwise
// the in-process broker for single-node deployments.
func NewBroker(cfg *config.Config) (Broker, error) {
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		log.Printf("realtime: using KafkaBroker with brokers=%v group=%s", brokers, cfg.KafkaGroup)
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaGroup,
		})
	}

	if cfg.RedisURL != "" {
		log.Printf("realtime: using RedisBroker at %s", cfg.RedisURL)
		return NewRedisBroker(cfg.RedisURL)
	}

	log.Println("realtime: using MemoryBroker (no KAFKA_BROKERS or REDIS_URL)")
	return NewMemoryBroker(), nil
}
