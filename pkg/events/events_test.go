package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

func sampleEvent() domain.Event {
	return domain.Event{
		ID:            "evt-1",
		SubmissionID:  "sub-1",
		TransactionID: "tx-1",
		Action:        "approved",
		OldStatus:     domain.StatusPendingReview,
		NewStatus:     domain.StatusApproved,
		ActorID:       "agent-1",
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	pub, err := New(Config{Driver: DriverRedis, Stream: "test:events"}, client, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, err := client.XRange(context.Background(), "test:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Values["action"] != "approved" {
		t.Fatalf("unexpected stream contents: %+v", msgs)
	}
	var decoded domain.Event
	if err := json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.NewStatus != domain.StatusApproved || decoded.ActorID != "agent-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestNewRejectsUnknownDriverAndMissingSettings(t *testing.T) {
	if _, err := New(Config{Driver: "kafka"}, nil, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := New(Config{Driver: DriverRedis}, nil, nil); err == nil {
		t.Fatalf("expected missing redis client error")
	}
	if _, err := New(Config{Driver: DriverNATS}, nil, nil); err == nil {
		t.Fatalf("expected missing nats url error")
	}
	if _, err := New(Config{Driver: DriverAMQP}, nil, nil); err == nil {
		t.Fatalf("expected missing amqp url error")
	}
}

func TestLogAndMemoryPublishers(t *testing.T) {
	pub, err := New(Config{}, nil, nil)
	if err != nil {
		t.Fatalf("default publisher: %v", err)
	}
	if _, ok := pub.(*LogPublisher); !ok {
		t.Fatalf("empty driver should log, got %T", pub)
	}
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("log publish: %v", err)
	}
	mem := &MemoryPublisher{}
	_ = mem.Publish(context.Background(), sampleEvent())
	if got := mem.Events(); len(got) != 1 || got[0].ID != "evt-1" {
		t.Fatalf("unexpected memory events: %+v", got)
	}
}
