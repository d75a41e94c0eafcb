package regulation

import (
	"testing"
	"time"

	"github.com/climateguard/climateguard/internal/domain"
)

func TestCoolingThresholds(t *testing.T) {
	if got, want := WarmUpThreshold(domain.Cooling, 25.0), 24.5; got != want {
		t.Errorf("WarmUpThreshold = %v, want %v", got, want)
	}
	if got, want := CoolDownThreshold(domain.Cooling, 25.0), 25.0; got != want {
		t.Errorf("CoolDownThreshold = %v, want %v", got, want)
	}
	if got, want := PowerSaveThreshold(domain.Cooling, 25.0), 24.75; got != want {
		t.Errorf("PowerSaveThreshold = %v, want %v", got, want)
	}
}

func TestHeatingThresholds(t *testing.T) {
	if got, want := WarmUpThreshold(domain.Heating, 20.0), 20.0; got != want {
		t.Errorf("WarmUpThreshold = %v, want %v", got, want)
	}
	if got, want := CoolDownThreshold(domain.Heating, 20.0), 20.5; got != want {
		t.Errorf("CoolDownThreshold = %v, want %v", got, want)
	}
	if got, want := PowerSaveThreshold(domain.Heating, 20.0), 20.25; got != want {
		t.Errorf("PowerSaveThreshold = %v, want %v", got, want)
	}
}

func TestOperatingModeWeekday(t *testing.T) {
	// 2026-07-27 is a Monday.
	morning := time.Date(2026, 7, 27, 7, 0, 0, 0, time.UTC)
	if got := OperatingMode(morning); got != domain.Day {
		t.Errorf("OperatingMode(weekday 07:00) = %v, want Day", got)
	}
	night := time.Date(2026, 7, 27, 23, 0, 0, 0, time.UTC)
	if got := OperatingMode(night); got != domain.Night {
		t.Errorf("OperatingMode(weekday 23:00) = %v, want Night", got)
	}
	earlyMorning := time.Date(2026, 7, 27, 5, 0, 0, 0, time.UTC)
	if got := OperatingMode(earlyMorning); got != domain.Night {
		t.Errorf("OperatingMode(weekday 05:00) = %v, want Night", got)
	}
}

func TestOperatingModeWeekend(t *testing.T) {
	// 2026-08-01 is a Saturday.
	early := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	if got := OperatingMode(early); got != domain.Night {
		t.Errorf("OperatingMode(weekend 07:00) = %v, want Night", got)
	}
	morning := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if got := OperatingMode(morning); got != domain.Day {
		t.Errorf("OperatingMode(weekend 09:00) = %v, want Day", got)
	}
}
