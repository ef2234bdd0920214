package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func TestMemoryViolationSink_AccumulatesByIPAndRoute(t *testing.T) {
	sink := NewMemoryViolationSink()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sink.Record(ctx, domain.ViolationEvent{IP: "1.1.1.1", RouteType: "api", At: at})
	sink.Record(ctx, domain.ViolationEvent{IP: "1.1.1.1", RouteType: "auth", At: at})
	sink.Record(ctx, domain.ViolationEvent{IP: "2.2.2.2", RouteType: "api", At: at})

	if got := sink.ByIP()["1.1.1.1"]; got != 2 {
		t.Fatalf("expected 2 events for 1.1.1.1, got %d", got)
	}
	if got := sink.ByRoute()["api"]; got != 2 {
		t.Fatalf("expected 2 events for api, got %d", got)
	}
	if got := sink.Events(); len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
}

func TestMemoryViolationSink_AccessorsReturnCopies(t *testing.T) {
	sink := NewMemoryViolationSink()
	sink.Record(context.Background(), domain.ViolationEvent{IP: "1.1.1.1", RouteType: "api"})

	byIP := sink.ByIP()
	byIP["1.1.1.1"] = 99
	if got := sink.ByIP()["1.1.1.1"]; got != 1 {
		t.Fatalf("ByIP must return a copy, got %d", got)
	}
}
