package jobs

import "testing"

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestEventBusSubscribeFiltersAndOrders verifies per-job fan-out.
func TestEventBusSubscribeFiltersAndOrders(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe("job-a")
	defer cancel()

	bus.Publish(Event{JobID: "job-a", Type: EventTypeStatus})
	bus.Publish(Event{JobID: "job-b", Type: EventTypeStatus})
	bus.Publish(Event{JobID: "job-a", Type: EventTypeProgress, Progress: 0.5})

	first := <-ch
	second := <-ch
	if first.JobID != "job-a" || second.JobID != "job-a" {
		t.Fatalf("unexpected job IDs: %s, %s", first.JobID, second.JobID)
	}
	if first.Seq >= second.Seq {
		t.Fatalf("events out of order: %d then %d", first.Seq, second.Seq)
	}
	if second.Type != EventTypeProgress || second.Progress != 0.5 {
		t.Fatalf("unexpected second event: %+v", second)
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

// TestEventBusSubscribeAllJobs verifies the empty-ID wildcard.
func TestEventBusSubscribeAllJobs(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe("")
	defer cancel()

	bus.Publish(Event{JobID: "job-a"})
	bus.Publish(Event{JobID: "job-b"})

	if e := <-ch; e.JobID != "job-a" {
		t.Fatalf("first event = %+v", e)
	}
	if e := <-ch; e.JobID != "job-b" {
		t.Fatalf("second event = %+v", e)
	}
}

// TestEventBusCancelClosesChannel verifies unsubscribe semantics.
func TestEventBusCancelClosesChannel(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe("job-a")

	cancel()
	cancel() // repeated cancel is a no-op

	if _, open := <-ch; open {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{JobID: "job-a"})
}
