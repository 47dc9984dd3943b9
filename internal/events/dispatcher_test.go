package events

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryDispatcherJoinsHandlerErrors(t *testing.T) {
	d := NewInMemoryDispatcher()
	errFirst := errors.New("first")
	errSecond := errors.New("second")

	var calls []string
	d.Subscribe(EventItemEscalated, func(context.Context, Event) error {
		calls = append(calls, "a")
		return errFirst
	})
	d.Subscribe(EventItemEscalated, func(context.Context, Event) error {
		calls = append(calls, "b")
		return nil
	})
	d.Subscribe(EventItemEscalated, func(context.Context, Event) error {
		calls = append(calls, "c")
		return errSecond
	})
	d.Subscribe(EventSLABreached, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{ID: "e1", Type: EventItemEscalated, ItemID: "item-1"})
	if !errors.Is(err, errFirst) || !errors.Is(err, errSecond) {
		t.Fatalf("Publish error = %v, want both handler errors", err)
	}
	if len(calls) != 3 || calls[0] != "a" || calls[1] != "b" || calls[2] != "c" {
		t.Errorf("calls = %v, want [a b c]", calls)
	}

	if err := d.Publish(context.Background(), Event{Type: EventItemAssigned}); err != nil {
		t.Errorf("publish without subscribers = %v", err)
	}
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "workflow-events"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "workflow-events")
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
