package agentrt

import (
	"context"
	"testing"
	"time"

	"github.com/dere-run/dered"
)

// fakeAdapterScript is a tiny shell script that speaks the NDJSON protocol:
// it announces readiness immediately, then for each line it reads on stdin
// echoes a text delta followed by a done event.
const fakeAdapterScript = `
echo '{"type":"session_ready","external_agent_id":"fake-1"}'
while IFS= read -r line; do
  echo '{"type":"text","delta":"hello back"}'
  echo '{"type":"done","input_tokens":1,"output_tokens":2,"tool_calls":0,"cost_usd":0.001}'
done
`

func startFakeAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Start(context.Background(), Config{
		Command:      "sh",
		Args:         []string{"-c", fakeAdapterScript},
		StartTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapterQueryStreamsEvents(t *testing.T) {
	a := startFakeAdapter(t)
	if a.ExternalAgentID != "fake-1" {
		t.Errorf("ExternalAgentID = %q, want fake-1", a.ExternalAgentID)
	}

	var events []dered.StreamEvent
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Query(ctx, "sess_1", "hi", func(e dered.StreamEvent) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Query() emitted %d events, want 2", len(events))
	}
	if events[0].Type != dered.EventText || events[0].Delta != "hello back" {
		t.Errorf("events[0] = %+v, want text delta 'hello back'", events[0])
	}
	if events[1].Type != dered.EventDone {
		t.Errorf("events[1].Type = %q, want done", events[1].Type)
	}
	if !events[1].IsTerminal() {
		t.Errorf("done event should be terminal")
	}
	if events[0].Seq >= events[1].Seq {
		t.Errorf("sequence numbers not increasing: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestAdapterQuerySerializesCalls(t *testing.T) {
	a := startFakeAdapter(t)

	for i := 0; i < 3; i++ {
		var gotDone bool
		err := a.Query(context.Background(), "sess_1", "hi", func(e dered.StreamEvent) {
			if e.Type == dered.EventDone {
				gotDone = true
			}
		})
		if err != nil {
			t.Fatalf("Query() iteration %d error = %v", i, err)
		}
		if !gotDone {
			t.Errorf("Query() iteration %d never emitted a done event", i)
		}
	}
}
