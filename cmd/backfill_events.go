package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/database"
	"github.com/psds-microservice/support-bot/internal/kafka"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

var backfillEventsCmd = &cobra.Command{
	Use:   "backfill-events",
	Short: "Emit a ticket.snapshot event for every stored ticket to Kafka",
	RunE:  runBackfillEvents,
}

func runBackfillEvents(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load("../../.env") // repo root when running from bin/
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopicTicket == "" {
		log.Println("backfill-events: KAFKA_BROKERS or KAFKA_TOPIC_TICKET not set, nothing to do")
		return nil
	}
	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	tickets, err := ticket.NewRegistry(store.NewPostgres(conn)).List(ctx, "")
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	log.Printf("backfill-events: found %d tickets", len(tickets))

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, false)
	defer producer.Close()
	for i := range tickets {
		producer.ProduceTicketEvent(ctx, kafka.EventTicketSnapshot, kafka.SnapshotPayload(&tickets[i]))
		if (i+1)%50 == 0 || i == len(tickets)-1 {
			log.Printf("backfill-events: sent %d/%d events", i+1, len(tickets))
		}
	}
	log.Printf("backfill-events: done, sent %d events to %s", len(tickets), cfg.KafkaTopicTicket)
	return nil
}
