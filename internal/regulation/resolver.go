package regulation

import (
	"time"

	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

// Regulation is one resolved (measure, device, target-temperature)
// triple: measure drives device toward target.
type Regulation struct {
	Measure domain.MeasureKind
	Device  domain.DeviceKind
	Target  float64
}

// ResolveForDevice returns every regulation currently active for device
// at the given moment.
func ResolveForDevice(tx *store.Tx, now time.Time, dev domain.DeviceKind) ([]Regulation, error) {
	away, err := tx.CurrentAwayStatus()
	if err != nil {
		return nil, err
	}
	if away == domain.On {
		return awayRegulationsForDevice(dev), nil
	}

	mode := OperatingMode(now)
	controls, err := tx.DeviceControlsForDevice(dev, mode)
	if err != nil {
		return nil, err
	}
	return thresholdRegulations(tx, dev, mode, controls)
}

// ResolveForMeasure returns every regulation currently driven by measure
// at the given moment.
func ResolveForMeasure(tx *store.Tx, now time.Time, measure domain.MeasureKind) ([]Regulation, error) {
	away, err := tx.CurrentAwayStatus()
	if err != nil {
		return nil, err
	}
	if away == domain.On {
		return awayRegulationsForMeasure(measure), nil
	}

	mode := OperatingMode(now)
	controls, err := tx.DeviceControlsForMeasure(measure, mode)
	if err != nil {
		return nil, err
	}
	var out []Regulation
	for _, c := range controls {
		regs, err := thresholdRegulations(tx, c.DeviceKind, mode, []domain.DeviceControl{c})
		if err != nil {
			return nil, err
		}
		out = append(out, regs...)
	}
	return out, nil
}

func thresholdRegulations(tx *store.Tx, dev domain.DeviceKind, mode domain.OperatingMode, controls []domain.DeviceControl) ([]Regulation, error) {
	th, err := tx.Threshold(dev, mode)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return nil, nil
	}
	target := th.Celsius()

	out := make([]Regulation, 0, len(controls))
	for _, c := range controls {
		out = append(out, Regulation{Measure: c.MeasureKind, Device: dev, Target: target})
	}
	return out, nil
}

// awayRegulationsForDevice implements the away-mode anti-freeze floor: a
// safety regulation, not comfort control. Only HEATING is regulated, off
// the indoor measures, at a fixed target.
func awayRegulationsForDevice(dev domain.DeviceKind) []Regulation {
	if dev != domain.Heating {
		return nil
	}
	return []Regulation{
		{Measure: domain.LivingRoom, Device: domain.Heating, Target: domain.AntiFreezeCelsius},
		{Measure: domain.Bedroom, Device: domain.Heating, Target: domain.AntiFreezeCelsius},
	}
}

func awayRegulationsForMeasure(measure domain.MeasureKind) []Regulation {
	if !measure.IsIndoor() {
		return nil
	}
	return []Regulation{{Measure: measure, Device: domain.Heating, Target: domain.AntiFreezeCelsius}}
}
