//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_SessionFinishedRoundTrip(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan SessionFinished, 1)
	err = client.Subscribe(SubjectSessionFinished, func(subject string, data []byte) {
		var evt SessionFinished
		if err := json.Unmarshal(data, &evt); err == nil {
			received <- evt
		}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(SubjectSessionFinished, SessionFinished{Handle: "h1", Status: "ok", Inserted: 3}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case evt := <-received:
		if evt.Handle != "h1" || evt.Inserted != 3 {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
