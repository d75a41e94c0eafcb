// Package regulation implements the threshold semantics, the dynamic
// resolver that decides which measures regulate which devices at a given
// moment, and the RegulateTemperature decision (Regulate). It holds no
// wire-level logic of its own: internal/bus's commands call into it, and
// Regulate acts through internal/device.
package regulation

import (
	"time"

	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

// Range is the band width used to derive the three operating thresholds
// from one configured target temperature.
const Range = 0.5

// WarmUpThreshold is the temperature below which the engine should act
// to warm the room for the given device kind.
func WarmUpThreshold(kind domain.DeviceKind, target float64) float64 {
	switch kind {
	case domain.Cooling:
		return target - Range
	case domain.Heating:
		return target
	default:
		return target - Range/2
	}
}

// CoolDownThreshold is the temperature above which the engine should act
// to cool the room for the given device kind.
func CoolDownThreshold(kind domain.DeviceKind, target float64) float64 {
	switch kind {
	case domain.Cooling:
		return target
	case domain.Heating:
		return target + Range
	default:
		return target + Range/2
	}
}

// PowerSaveThreshold is the midpoint used to allow early shutoff once the
// room has been coasting in the comfortable zone long enough.
func PowerSaveThreshold(kind domain.DeviceKind, target float64) float64 {
	switch kind {
	case domain.Cooling:
		return target - Range/2
	case domain.Heating:
		return target + Range/2
	default:
		return target
	}
}

// PowerSaveDelta is the lookback window used to decide whether the room
// has been coasting long enough for a power-save shutoff.
const PowerSaveDelta = 15 * time.Minute

// FreshnessWindow bounds how old a sample may be and still be used to
// evaluate a device.
const FreshnessWindow = 10 * time.Minute

// OperatingMode derives the DAY/NIGHT mode for the given wall-clock time:
// weekdays are DAY from 06:00 up to (not including) 22:00, weekends DAY
// from 08:00 up to 22:00; NIGHT otherwise.
func OperatingMode(at time.Time) domain.OperatingMode {
	hour := at.Hour()
	switch at.Weekday() {
	case time.Saturday, time.Sunday:
		if hour >= 8 && hour < 22 {
			return domain.Day
		}
	default:
		if hour >= 6 && hour < 22 {
			return domain.Day
		}
	}
	return domain.Night
}

// coastingAllowsCool reports whether no sample for kind strictly below
// powerSave exists from PowerSaveDelta before now onward — used by the
// cool-down power-save predicate to check that the room has stayed above
// the power-save threshold for the whole lookback window.
// coastingAllowsWarm is the mirror for samples strictly above it.
func coastingAllowsCool(tx *store.Tx, kind domain.MeasureKind, powerSave float64, now time.Time) (bool, error) {
	below, err := tx.AnyMeasureBelow(kind, powerSave, now.Add(-PowerSaveDelta))
	if err != nil {
		return false, err
	}
	return !below, nil
}

func coastingAllowsWarm(tx *store.Tx, kind domain.MeasureKind, powerSave float64, now time.Time) (bool, error) {
	above, err := tx.AnyMeasureAbove(kind, powerSave, now.Add(-PowerSaveDelta))
	if err != nil {
		return false, err
	}
	return !above, nil
}
