package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := Start(Config{ClientID: "test"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Close)

	received := make(chan *nc.Msg, 1)
	sub, err := b.Subscribe("dered.test.subject", func(m *nc.Msg) {
		received <- m
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish("dered.test.subject", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Errorf("msg.Data = %q, want %q", msg.Data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishJSONRoundTrip(t *testing.T) {
	b, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Close)

	type payload struct {
		Name string `json:"name"`
	}
	received := make(chan []byte, 1)
	sub, err := b.Subscribe(SessionEvents("s1"), func(m *nc.Msg) { received <- m.Data })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.PublishJSON(SessionEvents("s1"), payload{Name: "joy"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case data := <-received:
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if p.Name != "joy" {
			t.Errorf("p.Name = %q, want joy", p.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSanitizeWorkDirReplacesSubjectTokens(t *testing.T) {
	got := sanitizeWorkDir("/home/user/my.project")
	for _, c := range got {
		if c == '.' {
			t.Errorf("sanitizeWorkDir result still contains '.': %q", got)
		}
	}
}
