package fanout

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Moha7763/queue-care-flow/internal/hub"
	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store"
	"github.com/Moha7763/queue-care-flow/internal/store/memory"

	"go.uber.org/zap"
)

func TestDrainBroadcastsAndPersistsOffset(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(memory.Options{SeedFunc: func() int { return 1 }})
	h := hub.New(zap.NewNop())
	client := &hub.Client{ID: "display", Send: make(chan []byte, 16)}
	h.Register(client)

	for i := 0; i < 3; i++ {
		if _, err := s.CreateTicket(ctx, store.CreateTicketInput{Lane: models.LaneXRay, Date: "2026-08-27"}); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}

	p := NewPoller(s, h, zap.NewNop(), PollerConfig{BatchSize: 2})
	offset, err := s.GetOffset(ctx)
	if err != nil {
		t.Fatalf("GetOffset: %v", err)
	}
	offset = p.drain(ctx, offset)

	if got := len(client.Send); got != 3 {
		t.Fatalf("client received %d events, want 3", got)
	}
	envelope := struct {
		Type string `json:"type"`
		Lane string `json:"lane"`
	}{}
	if err := json.Unmarshal(<-client.Send, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Type != store.EventTicketCreated || envelope.Lane != "xray" {
		t.Fatalf("envelope = %+v", envelope)
	}

	// A second drain from the updated offset is a no-op.
	persisted, err := s.GetOffset(ctx)
	if err != nil {
		t.Fatalf("GetOffset: %v", err)
	}
	if persisted.LastEventID != offset.LastEventID {
		t.Fatalf("persisted offset %q, want %q", persisted.LastEventID, offset.LastEventID)
	}
	for len(client.Send) > 0 {
		<-client.Send
	}
	p.drain(ctx, offset)
	if got := len(client.Send); got != 0 {
		t.Fatalf("re-drain delivered %d events, want 0", got)
	}
}
