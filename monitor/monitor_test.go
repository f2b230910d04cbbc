package monitor

import (
	"testing"
	"time"

	"timerfleet/model"
)

func TestClassify_NoLogAtAll(t *testing.T) {
	now := time.Now()
	d := classify(model.Timer{TimerID: "t1"}, nil, now)
	if d.Class != model.NotificationLost {
		t.Fatalf("class = %v, want NotificationLost", d.Class)
	}
}

func TestClassify_AllLockContention(t *testing.T) {
	now := time.Now()
	logs := []model.CompletionLog{
		{LockAcquired: false, Success: false},
		{LockAcquired: false, Success: false},
	}
	d := classify(model.Timer{TimerID: "t1"}, logs, now)
	if d.Class != model.LockContentionLost {
		t.Fatalf("class = %v, want LockContentionLost", d.Class)
	}
}

func TestClassify_ProcessingFailed(t *testing.T) {
	now := time.Now()
	logs := []model.CompletionLog{
		{LockAcquired: true, Success: false, ErrorMessage: "boom"},
	}
	d := classify(model.Timer{TimerID: "t1"}, logs, now)
	if d.Class != model.ProcessingFailed {
		t.Fatalf("class = %v, want ProcessingFailed", d.Class)
	}
	if d.ErrorMessage != "boom" {
		t.Fatalf("error message = %q, want boom", d.ErrorMessage)
	}
}

func TestClassify_CommitDivergence(t *testing.T) {
	now := time.Now()
	logs := []model.CompletionLog{
		{LockAcquired: true, Success: true},
	}
	d := classify(model.Timer{TimerID: "t1"}, logs, now)
	if d.Class != model.CommitDivergence {
		t.Fatalf("class = %v, want CommitDivergence", d.Class)
	}
}

