package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestNotifyLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &failingPublisher{}

	Notify(context.Background(), pub, zap.New(core), Event{Type: PaymentRecorded, RefID: uuid.New(), At: time.Now()})

	if pub.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", pub.calls)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
	if got := logs.All()[0].Message; got != "failed to publish event" {
		t.Errorf("unexpected log message %q", got)
	}
}

func TestNotifyNilPublisher(t *testing.T) {
	Notify(context.Background(), nil, zap.NewNop(), Event{Type: LoanPaidOff})
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	if err := pub.Publish(context.Background(), Event{Type: AuctionSettled, LoanID: uuid.New()}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	entry := logs.All()[0]
	if entry.ContextMap()["type"] != string(AuctionSettled) {
		t.Errorf("expected type field, got %v", entry.ContextMap())
	}
}
