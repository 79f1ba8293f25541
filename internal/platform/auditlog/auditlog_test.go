package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "alice",
		Action:       "run.cancel",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	missingActor := valid
	missingActor.Actor = " "
	if err := missingActor.Validate(); err == nil {
		t.Fatalf("expected error for missing actor")
	}

	missingResource := valid
	missingResource.ResourceID = ""
	if err := missingResource.Validate(); err == nil {
		t.Fatalf("expected error for missing resource id")
	}
}

func TestComputeIntegritySHA256Deterministic(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "run.submit",
		ResourceType: "run",
		ResourceID:   "run-1",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
		UserAgent:    "test-agent",
	}
	payloadJSON := []byte(`{"workload":"my_pipeline"}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256ChangesOnPayload(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "run.submit",
		ResourceType: "run",
		ResourceID:   "run-1",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}
