// Package domain holds the value types shared by every other package:
// device/measure/mode enums and the persisted entities.
package domain

import (
	"fmt"
	"time"
)

// DeviceKind identifies one of the two mains-switched appliances this
// controller regulates. The numeric value doubles as the device's radio
// address.
type DeviceKind byte

const (
	Heating DeviceKind = 0x01
	Cooling DeviceKind = 0x02
)

func (k DeviceKind) String() string {
	switch k {
	case Heating:
		return "HEATING"
	case Cooling:
		return "COOLING"
	default:
		return "UNKNOWN_DEVICE"
	}
}

// ParseDeviceKind parses the names produced by DeviceKind.String.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch s {
	case "HEATING":
		return Heating, nil
	case "COOLING":
		return Cooling, nil
	default:
		return 0, fmt.Errorf("domain: unknown device kind %q", s)
	}
}

// MeasureKind identifies the origin of a SensorMeasure: an indoor room
// sensor or the outdoor reference sensor. Like DeviceKind, the numeric
// value is also the sensor's radio address.
type MeasureKind byte

const (
	Outdoor    MeasureKind = 0x10
	LivingRoom MeasureKind = 0x11
	Bedroom    MeasureKind = 0x12
)

func (k MeasureKind) String() string {
	switch k {
	case Outdoor:
		return "OUTDOOR"
	case LivingRoom:
		return "LIVING_ROOM"
	case Bedroom:
		return "BEDROOM"
	default:
		return "UNKNOWN_MEASURE"
	}
}

// ParseMeasureKind parses the names produced by MeasureKind.String.
func ParseMeasureKind(s string) (MeasureKind, error) {
	switch s {
	case "OUTDOOR":
		return Outdoor, nil
	case "LIVING_ROOM":
		return LivingRoom, nil
	case "BEDROOM":
		return Bedroom, nil
	default:
		return 0, fmt.Errorf("domain: unknown measure kind %q", s)
	}
}

// IsIndoor reports whether this measure kind originates indoors, i.e. is
// eligible for away-mode anti-freeze regulation.
func (k MeasureKind) IsIndoor() bool {
	return k == LivingRoom || k == Bedroom
}

// OperatingMode is the controller's notion of day vs. night, derived from
// wall-clock time and weekday.
type OperatingMode byte

const (
	Day OperatingMode = iota
	Night
)

func (m OperatingMode) String() string {
	if m == Day {
		return "DAY"
	}
	return "NIGHT"
}

// ParseOperatingMode parses the names produced by OperatingMode.String.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch s {
	case "DAY":
		return Day, nil
	case "NIGHT":
		return Night, nil
	default:
		return 0, fmt.Errorf("domain: unknown operating mode %q", s)
	}
}

// PowerStatus is the on/off state of a device, as recorded in the
// append-only DeviceStatus log.
type PowerStatus byte

const (
	Off PowerStatus = iota
	On
)

func (s PowerStatus) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

// SensorMeasure is one append-only reading from a remote sensor.
// Humidity is absent (nil) for the outdoor sensor, which only reports
// temperature and battery voltage.
type SensorMeasure struct {
	Timestamp   time.Time
	Kind        MeasureKind
	Temperature float64
	Humidity    *float64
	Voltage     *float64
}

// DevicePing is one append-only liveness frame received from a device.
type DevicePing struct {
	Timestamp time.Time
	Kind      DeviceKind
}

// DeviceStatus is one append-only on/off transition for a device.
type DeviceStatus struct {
	Timestamp time.Time
	Kind      DeviceKind
	Status    PowerStatus
}

// ThresholdTemperature is the configured target for a (device, mode)
// pair. Temperature is stored as hundredths of a degree to avoid float
// drift across restarts.
type ThresholdTemperature struct {
	DeviceKind       DeviceKind
	OperatingMode    OperatingMode
	TemperatureCenti int64
}

// Celsius converts the stored centi-degree integer back to a float.
func (t ThresholdTemperature) Celsius() float64 {
	return float64(t.TemperatureCenti) / 100
}

// CentiFromCelsius rounds a float Celsius value into the persisted
// hundredths-of-a-degree representation.
func CentiFromCelsius(celsius float64) int64 {
	if celsius >= 0 {
		return int64(celsius*100 + 0.5)
	}
	return int64(celsius*100 - 0.5)
}

// DeviceControl is one "this measure regulates this device in this mode"
// tuple.
type DeviceControl struct {
	DeviceKind    DeviceKind
	MeasureKind   MeasureKind
	OperatingMode OperatingMode
}

// AwayStatus is one append-only away-mode transition.
type AwayStatus struct {
	Timestamp time.Time
	Status    PowerStatus
}

// AntiFreezeCelsius is the safety floor temperature maintained by heating
// in away mode.
const AntiFreezeCelsius = 15.0
