package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/psds-microservice/support-bot/internal/model"
)

//go:generate mockgen -destination=mock_producer.go -package=kafka . TicketEventProducer

// События жизненного цикла тикета.
const (
	EventTicketOpened      = "ticket.opened"
	EventTicketClosed      = "ticket.closed"
	EventTicketClaimed     = "ticket.claimed"
	EventTicketUnclaimed   = "ticket.unclaimed"
	EventTicketMoved       = "ticket.moved"
	EventTicketStaffAction = "ticket.staff_action"
	EventTicketSnapshot    = "ticket.snapshot"
)

// TicketEventProducer: интерфейс для отправки событий тикета в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует обработку событий бота).
type Producer struct {
	writer *kafka.Writer
	topic  string
	now    func() time.Time
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой, методы no-op.
// async=false используется командой backfill-events, где важна доставка.
func NewProducer(brokers []string, topic string, async bool) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{now: time.Now}
	}
	return &Producer{
		topic: topic,
		now:   time.Now,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			Async:        async,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Printf("kafka: deliver %d ticket events: %v", len(messages), err)
				}
			},
		},
	}
}

// Enabled сообщает, настроен ли writer.
func (p *Producer) Enabled() bool { return p.writer != nil }

// ProduceTicketEvent отправляет событие тикета в топик. Ключ сообщения: ticket_id,
// чтобы события одного тикета попадали в одну партицию по порядку.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	body, key, err := encodeEvent(event, payload, p.now())
	if err != nil {
		log.Printf("kafka: marshal ticket event: %v", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		log.Printf("kafka: write ticket event: %v", err)
	}
}

func encodeEvent(event string, payload map[string]interface{}, at time.Time) (body, key []byte, err error) {
	msg := map[string]interface{}{
		"event":       event,
		"event_id":    uuid.NewString(),
		"occurred_at": at.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		msg[k] = v
	}
	if id, ok := payload["ticket_id"].(string); ok {
		key = []byte(id)
	}
	body, err = json.Marshal(msg)
	return body, key, err
}

// SnapshotPayload описывает сохранённое состояние тикета для события ticket.snapshot.
func SnapshotPayload(t *model.Ticket) map[string]interface{} {
	payload := map[string]interface{}{
		"ticket_id":    t.Number,
		"type":         t.Type,
		"requester_id": t.RequesterID,
		"status":       string(t.Status),
		"region":       t.Server,
		"channel_id":   t.ChannelID,
		"created_at":   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.CloseTime != nil {
		payload["closed_at"] = t.CloseTime.UTC().Format(time.RFC3339)
		payload["close_user"] = t.CloseUser
		payload["close_reason"] = t.CloseReason
		payload["transcript_ref"] = t.TranscriptRef
	}
	return payload
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Nop отбрасывает события; используется, когда KAFKA_BROKERS не задан, и в тестах.
type Nop struct{}

func (Nop) ProduceTicketEvent(context.Context, string, map[string]interface{}) {}
