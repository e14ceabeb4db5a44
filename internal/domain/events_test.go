package domain

import "testing"

func TestEventDispatcher_Publish(t *testing.T) {
	d := NewEventDispatcher()

	var typed, all int
	d.Subscribe(EventSubmissionGraded, func(e Event) { typed++ })
	d.SubscribeAll(func(e Event) { all++ })

	sub := &StageSubmission{ID: 3, StageID: 1, Kind: KindMC, Points: 40}
	d.Publish(NewSubmissionGradedEvent(7, sub))
	d.Publish(NewAttemptStartedEvent(7, 1, 1))

	if typed != 1 {
		t.Errorf("typed handler called %d times, want 1", typed)
	}
	if all != 2 {
		t.Errorf("all handler called %d times, want 2", all)
	}
}

func TestEventDispatcher_NilIsNoop(t *testing.T) {
	var d *EventDispatcher
	d.Publish(NewAttemptFinishedEvent(1, 50))
}

func TestSubmissionGradedEvent_UsesManualResult(t *testing.T) {
	manual := 90
	sub := &StageSubmission{ID: 3, Points: 10, ManualResult: &manual}
	e := NewSubmissionGradedEvent(1, sub)
	if e.Points != 90 {
		t.Errorf("Points = %d, want 90", e.Points)
	}
	if e.AttemptID() != 1 || e.EventType() != EventSubmissionGraded {
		t.Errorf("event = %+v", e)
	}
}
