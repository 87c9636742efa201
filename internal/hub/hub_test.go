package hub

import (
	"testing"

	"github.com/Moha7763/queue-care-flow/internal/models"

	"go.uber.org/zap"
)

func newClient(id string, lane models.Lane) *Client {
	return &Client{ID: id, Send: make(chan []byte, 4), Subscription: Subscription{Lane: lane}}
}

func TestBroadcastHonorsLaneFilter(t *testing.T) {
	h := New(zap.NewNop())

	all := newClient("all", "")
	xray := newClient("xray", models.LaneXRay)
	mri := newClient("mri", models.LaneMRI)
	for _, c := range []*Client{all, xray, mri} {
		h.Register(c)
	}

	h.Broadcast([]byte(`{"type":"ticket.called"}`), models.LaneXRay)

	if len(all.Send) != 1 {
		t.Fatalf("unfiltered client got %d messages, want 1", len(all.Send))
	}
	if len(xray.Send) != 1 {
		t.Fatalf("matching client got %d messages, want 1", len(xray.Send))
	}
	if len(mri.Send) != 0 {
		t.Fatalf("other-lane client got %d messages, want 0", len(mri.Send))
	}
}

func TestBroadcastWithoutLaneReachesEveryone(t *testing.T) {
	h := New(zap.NewNop())
	xray := newClient("xray", models.LaneXRay)
	h.Register(xray)

	// Reset events carry no lane and must reach filtered clients too.
	h.Broadcast([]byte(`{"type":"queue.reset"}`), "")

	if len(xray.Send) != 1 {
		t.Fatalf("filtered client got %d messages, want 1", len(xray.Send))
	}
}

func TestBroadcastSkipsSlowClient(t *testing.T) {
	h := New(zap.NewNop())
	slow := &Client{ID: "slow", Send: make(chan []byte)}
	h.Register(slow)

	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("x"), "")
		close(done)
	}()
	<-done
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(zap.NewNop())
	c := newClient("c", "")
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", h.ClientCount())
	}
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name string
		data string
		ok   bool
		lane string
	}{
		{"subscribe with lane", `{"action":"subscribe","lane":"xray"}`, true, "xray"},
		{"subscribe all lanes", `{"action":"subscribe"}`, true, ""},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, ""},
		{"unknown lane", `{"action":"subscribe","lane":"dental"}`, false, ""},
		{"unknown action", `{"action":"ping"}`, false, ""},
		{"malformed json", `{`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tt.data))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && msg.Lane != tt.lane {
				t.Fatalf("lane = %q, want %q", msg.Lane, tt.lane)
			}
		})
	}
}
