package scheduler

import (
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestCalculateNextDueInterval(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 300, Timezone: "UTC"}
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := from.Add(5 * time.Minute)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDueCron(t *testing.T) {
	// Каждый день в 03:00
	sched := &domain.Schedule{CronExpr: "0 3 * * *", Timezone: "UTC"}
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDueCronTimezone(t *testing.T) {
	// 03:00 по Москве = 00:00 UTC
	sched := &domain.Schedule{CronExpr: "0 3 * * *", Timezone: "Europe/Moscow"}
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDueInvalidTimezoneFallsBackToUTC(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 60, Timezone: "Not/AZone"}
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	if !next.Equal(from.Add(time.Minute)) {
		t.Errorf("next = %v, want %v", next, from.Add(time.Minute))
	}
}

func TestCalculateNextDueEmptySchedule(t *testing.T) {
	sched := &domain.Schedule{Timezone: "UTC"}
	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Error("CalculateNextDue() error = nil, want error for empty schedule")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 * * *", false},
		{"*/15 * * * *", false},
		{"0 0 1 1 *", false},
		{"not a cron", true},
		{"0 3 * *", true}, // не хватает поля
	}

	for _, tt := range tests {
		err := ValidateCronExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestScheduleRef(t *testing.T) {
	spec := &domain.PipelineSpec{
		Concurrency: &domain.ConcurrencyDef{ProtectedRefs: []string{"release", "main"}},
	}

	if got := scheduleRef(&domain.Schedule{Ref: "nightly"}, spec); got != "nightly" {
		t.Errorf("scheduleRef(with ref) = %q, want %q", got, "nightly")
	}
	if got := scheduleRef(&domain.Schedule{}, spec); got != "release" {
		t.Errorf("scheduleRef(protected refs) = %q, want %q", got, "release")
	}
	if got := scheduleRef(&domain.Schedule{}, &domain.PipelineSpec{}); got != "main" {
		t.Errorf("scheduleRef(default) = %q, want %q", got, "main")
	}
}
