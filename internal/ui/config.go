package ui

import (
	"github.com/climateguard/climateguard/internal/bus"
	"github.com/climateguard/climateguard/internal/domain"
)

// rawConfigPayload mirrors the inbound listener JSON shape before its
// string keys are resolved to domain enums.
type rawConfigPayload struct {
	IsAway               *bool                          `json:"isAway"`
	ThresholdTemperature map[string]map[string]float64   `json:"thresholdTemperature"`
	ControlMeasures      map[string]map[string][]string  `json:"controlMeasures"`
}

func (raw rawConfigPayload) toPayload() (bus.ConfigPayload, error) {
	payload := bus.ConfigPayload{IsAway: raw.IsAway}

	if raw.ThresholdTemperature != nil {
		payload.ThresholdTemperature = make(map[domain.DeviceKind]map[domain.OperatingMode]float64, len(raw.ThresholdTemperature))
		for deviceName, byMode := range raw.ThresholdTemperature {
			device, err := domain.ParseDeviceKind(deviceName)
			if err != nil {
				return bus.ConfigPayload{}, err
			}
			modes := make(map[domain.OperatingMode]float64, len(byMode))
			for modeName, celsius := range byMode {
				mode, err := domain.ParseOperatingMode(modeName)
				if err != nil {
					return bus.ConfigPayload{}, err
				}
				modes[mode] = celsius
			}
			payload.ThresholdTemperature[device] = modes
		}
	}

	if raw.ControlMeasures != nil {
		payload.ControlMeasures = make(map[domain.DeviceKind]map[domain.OperatingMode][]domain.MeasureKind, len(raw.ControlMeasures))
		for deviceName, byMode := range raw.ControlMeasures {
			device, err := domain.ParseDeviceKind(deviceName)
			if err != nil {
				return bus.ConfigPayload{}, err
			}
			modes := make(map[domain.OperatingMode][]domain.MeasureKind, len(byMode))
			for modeName, measureNames := range byMode {
				mode, err := domain.ParseOperatingMode(modeName)
				if err != nil {
					return bus.ConfigPayload{}, err
				}
				measures := make([]domain.MeasureKind, 0, len(measureNames))
				for _, measureName := range measureNames {
					measure, err := domain.ParseMeasureKind(measureName)
					if err != nil {
						return bus.ConfigPayload{}, err
					}
					measures = append(measures, measure)
				}
				modes[mode] = measures
			}
			payload.ControlMeasures[device] = modes
		}
	}

	return payload, nil
}
