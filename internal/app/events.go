package app

import (
	"log"

	"rental/internal/config"
	"rental/internal/events"
)

// NewPublisher returns the RabbitMQ publisher when enabled, and falls back to
// logging events when the broker is disabled or unreachable.
func NewPublisher(cfg config.RabbitMQConfig) events.Publisher {
	if !cfg.Enabled {
		return events.NewLogPublisher()
	}

	publisher, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		log.Printf("failed to connect to RabbitMQ, logging events instead: %v", err)
		return events.NewLogPublisher()
	}
	log.Printf("Publishing events to exchange %s", cfg.Exchange)
	return publisher
}
