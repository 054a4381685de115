package events

import (
	"fmt"
	"strings"

	"github.com/quiltdb/quilt/internal/config"
)

// NewPublisher creates a Publisher based on configuration.
// Default is NATS if type is not specified.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	busType := strings.ToLower(cfg.Type)

	if busType == "" {
		busType = "nats"
	}

	switch busType {
	case "nats":
		return newNATSPublisher(cfg.URL)

	case "redis":
		return newRedisPublisher(redisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})

	case "kafka":
		return newKafkaPublisher(kafkaConfig{
			Brokers: cfg.KafkaBrokers,
		})

	case "memory":
		return NewMemoryPublisher(), nil

	default:
		return nil, fmt.Errorf("unsupported events bus type: %s (supported: nats, redis, kafka, memory)", busType)
	}
}
