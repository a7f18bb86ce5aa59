package api

import (
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestMatchTrigger(t *testing.T) {
	triggers := []domain.TriggerDef{
		{Events: []string{"push"}, Branches: []string{"main"}},
		{Events: []string{"change_request"}},
	}

	tests := []struct {
		name    string
		trigger domain.TriggerEvent
		want    bool
	}{
		{
			name:    "push to main",
			trigger: domain.TriggerEvent{Event: domain.EventPush, Ref: "main"},
			want:    true,
		},
		{
			name:    "push to feature branch not listed",
			trigger: domain.TriggerEvent{Event: domain.EventPush, Ref: "feature/x"},
			want:    false,
		},
		{
			name:    "change request on any branch",
			trigger: domain.TriggerEvent{Event: domain.EventChangeRequest, Ref: "feature/x", ChangeRequest: 42},
			want:    true,
		},
		{
			name:    "schedule event has no trigger",
			trigger: domain.TriggerEvent{Event: domain.EventSchedule, Ref: "main"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := matchTrigger(triggers, tt.trigger)
			if ok != tt.want {
				t.Errorf("matchTrigger() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestMatchTriggerEmptyList(t *testing.T) {
	// Пустой список триггеров: только manual, события не матчатся
	if _, ok := matchTrigger(nil, domain.TriggerEvent{Event: domain.EventPush, Ref: "main"}); ok {
		t.Error("matchTrigger(nil, push) = true, want false")
	}
}

func TestParseIntOr(t *testing.T) {
	if got := parseIntOr("", 50); got != 50 {
		t.Errorf("parseIntOr(empty) = %d, want 50", got)
	}
	if got := parseIntOr("25", 50); got != 25 {
		t.Errorf("parseIntOr(25) = %d, want 25", got)
	}
	if got := parseIntOr("abc", 50); got != 50 {
		t.Errorf("parseIntOr(abc) = %d, want 50", got)
	}
}
