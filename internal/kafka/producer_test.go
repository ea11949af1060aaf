package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/psds-microservice/support-bot/internal/model"
)

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	body, key, err := encodeEvent(EventTicketClosed, map[string]interface{}{
		"ticket_id": "0007",
		"reason":    "resolved",
	}, at)
	if err != nil {
		t.Fatal(err)
	}
	if string(key) != "0007" {
		t.Fatalf("key = %q", key)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["event"] != EventTicketClosed || got["reason"] != "resolved" || got["occurred_at"] != "2026-05-01T09:00:00Z" {
		t.Fatalf("body = %v", got)
	}
	if _, err := uuid.Parse(got["event_id"].(string)); err != nil {
		t.Fatalf("event_id: %v", err)
	}

	_, key, _ = encodeEvent(EventTicketOpened, nil, at)
	if key != nil {
		t.Fatalf("key without ticket id = %q", key)
	}
}

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer(nil, "support.tickets", true)
	if p.Enabled() {
		t.Fatal("enabled without brokers")
	}
	p.ProduceTicketEvent(context.Background(), EventTicketOpened, map[string]interface{}{"ticket_id": "1"})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	var _ TicketEventProducer = Nop{}
	var _ TicketEventProducer = (*MockTicketEventProducer)(nil)
}

func TestSnapshotPayload(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tk := &model.Ticket{Number: "0003", Type: "Appeal", RequesterID: "u1", Server: "eu", Status: model.TicketStatusOpen, CreatedAt: created}
	p := SnapshotPayload(tk)
	if p["ticket_id"] != "0003" || p["region"] != "eu" || p["status"] != "open" || p["created_at"] != "2026-05-01T10:00:00Z" {
		t.Fatalf("open payload = %v", p)
	}
	if _, ok := p["closed_at"]; ok {
		t.Fatal("open ticket carries close fields")
	}

	closed := created.Add(time.Hour)
	tk.Status, tk.CloseTime, tk.CloseReason, tk.TranscriptRef = model.TicketStatusClosed, &closed, "done", "appeal-0003-user.html"
	p = SnapshotPayload(tk)
	if p["closed_at"] != "2026-05-01T11:00:00Z" || p["close_reason"] != "done" || p["transcript_ref"] != "appeal-0003-user.html" {
		t.Fatalf("closed payload = %v", p)
	}
}
