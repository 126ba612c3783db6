package domain

import "testing"

func TestJobStatusTransitions(t *testing.T) {
	allowed := map[[2]JobStatus]bool{
		{JobPending, JobProcessing}:    true,
		{JobPending, JobCompleted}:     true,
		{JobPending, JobFailed}:        true,
		{JobProcessing, JobCompleted}:  true,
		{JobProcessing, JobFailed}:     true,
		{JobProcessing, JobPending}:    false,
		{JobCompleted, JobFailed}:      false,
		{JobFailed, JobProcessing}:     false,
		{JobProcessing, JobProcessing}: false,
	}
	for pair, want := range allowed {
		if got := pair[0].CanTransitionTo(pair[1]); got != want {
			t.Fatalf("%s -> %s = %v, want %v", pair[0], pair[1], got, want)
		}
	}
}

func TestParseJobPriority(t *testing.T) {
	if p, err := ParseJobPriority(""); err != nil || p != PriorityNormal {
		t.Fatalf("empty priority = %q, %v", p, err)
	}
	if p, err := ParseJobPriority(" Urgent "); err != nil || p != PriorityUrgent {
		t.Fatalf("urgent priority = %q, %v", p, err)
	}
	if _, err := ParseJobPriority("critical"); RejectionReason(err) != "validation_error" {
		t.Fatalf("expected validation error, got %v", err)
	}
}
