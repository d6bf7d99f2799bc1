package bot

import (
	"testing"

	"gridbot/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"created to running", models.SessionCreated, models.SessionRunning, true},
		{"created to failed", models.SessionCreated, models.SessionFailed, true},
		{"running to paused", models.SessionRunning, models.SessionPaused, true},
		{"running to stopping", models.SessionRunning, models.SessionStopping, true},
		{"paused to running", models.SessionPaused, models.SessionRunning, true},
		{"paused to stopping", models.SessionPaused, models.SessionStopping, true},
		{"stopping to stopped", models.SessionStopping, models.SessionStopped, true},
		{"stopping to failed", models.SessionStopping, models.SessionFailed, true},

		{"created to paused", models.SessionCreated, models.SessionPaused, false},
		{"running to stopped directly", models.SessionRunning, models.SessionStopped, false},
		{"stopped is terminal", models.SessionStopped, models.SessionRunning, false},
		{"failed is terminal", models.SessionFailed, models.SessionRunning, false},
		{"unknown state", "limbo", models.SessionRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsActive(t *testing.T) {
	active := []string{models.SessionCreated, models.SessionRunning, models.SessionPaused, models.SessionStopping}
	for _, s := range active {
		if !IsActive(s) {
			t.Errorf("IsActive(%s) должно быть true", s)
		}
	}

	for _, s := range []string{models.SessionStopped, models.SessionFailed} {
		if IsActive(s) {
			t.Errorf("IsActive(%s) должно быть false", s)
		}
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) должно быть true", s)
		}
	}
}

func TestCanTrade(t *testing.T) {
	if !CanTrade(models.SessionRunning) {
		t.Error("running session must trade")
	}
	for _, s := range []string{models.SessionPaused, models.SessionStopping, models.SessionStopped, models.SessionFailed, models.SessionCreated} {
		if CanTrade(s) {
			t.Errorf("CanTrade(%s) должно быть false", s)
		}
	}
}
