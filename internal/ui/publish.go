package ui

import (
	"time"

	"github.com/climateguard/climateguard/internal/domain"
)

type temperaturePayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	Temperature float64   `json:"temperature"`
}

type humidityPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Humidity  float64   `json:"humidity"`
}

type pingPayload struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

type statusPayload struct {
	Kind      string `json:"kind"`
	IsWorking bool   `json:"isWorking"`
}

type deviceControlPayload struct {
	DeviceKind   string              `json:"deviceKind"`
	ControlledBy map[string][]string `json:"controlledBy"`
}

type thresholdPayload struct {
	Kind        string  `json:"kind"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
}

// PublishMeasure implements bus.Publisher.
func (h *Hub) PublishMeasure(m domain.SensorMeasure) {
	h.broadcastEnvelope(Envelope{Type: "measure/updateTemperature", Payload: temperaturePayload{
		Timestamp: m.Timestamp, Kind: m.Kind.String(), Temperature: m.Temperature,
	}})
	if m.Humidity != nil {
		h.broadcastEnvelope(Envelope{Type: "measure/updateHumidity", Payload: humidityPayload{
			Timestamp: m.Timestamp, Kind: m.Kind.String(), Humidity: *m.Humidity,
		}})
	}
}

// PublishPing implements bus.Publisher.
func (h *Hub) PublishPing(p domain.DevicePing) {
	h.broadcastEnvelope(Envelope{Type: "device/ping", Payload: pingPayload{Kind: p.Kind.String(), Timestamp: p.Timestamp}})
}

// PublishDeviceStatus implements bus.Publisher.
func (h *Hub) PublishDeviceStatus(kind domain.DeviceKind, status domain.PowerStatus, _ time.Time) {
	h.broadcastEnvelope(Envelope{Type: "device/updateStatus", Payload: statusPayload{Kind: kind.String(), IsWorking: status == domain.On}})
}

// PublishDeviceControl implements bus.Publisher.
func (h *Hub) PublishDeviceControl(kind domain.DeviceKind, controlledBy map[domain.OperatingMode][]domain.MeasureKind) {
	byMode := make(map[string][]string, len(controlledBy))
	for mode, measures := range controlledBy {
		names := make([]string, 0, len(measures))
		for _, m := range measures {
			names = append(names, m.String())
		}
		byMode[mode.String()] = names
	}
	h.broadcastEnvelope(Envelope{Type: "device/updateDeviceControl", Payload: deviceControlPayload{
		DeviceKind: kind.String(), ControlledBy: byMode,
	}})
}

// PublishThreshold implements bus.Publisher.
func (h *Hub) PublishThreshold(th domain.ThresholdTemperature) {
	h.broadcastEnvelope(Envelope{Type: "device/updateThresholdTemperature", Payload: thresholdPayload{
		Kind: th.DeviceKind.String(), Mode: th.OperatingMode.String(), Temperature: th.Celsius(),
	}})
}

// PublishAwayStatus implements bus.Publisher.
func (h *Hub) PublishAwayStatus(status domain.PowerStatus) {
	h.broadcastEnvelope(Envelope{Type: "device/updateAwayStatus", Payload: status == domain.On})
}
