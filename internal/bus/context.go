package bus

import (
	"time"

	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

// Publisher is the UI fan-out's narrow write surface, used by commands
// to broadcast state changes as they commit.
type Publisher interface {
	PublishMeasure(m domain.SensorMeasure)
	PublishPing(p domain.DevicePing)
	PublishDeviceStatus(kind domain.DeviceKind, status domain.PowerStatus, at time.Time)
	PublishDeviceControl(kind domain.DeviceKind, controlledBy map[domain.OperatingMode][]domain.MeasureKind)
	PublishThreshold(th domain.ThresholdTemperature)
	PublishAwayStatus(status domain.PowerStatus)
}

// Command is one unit of work executed inside its own transactional
// scope.
type Command interface {
	Execute(ectx *ExecutionContext) error
}

// ExecutionContext is what a Command sees: an open transaction scoped to
// this command, the outbound queue, the command queue (for re-enqueue),
// the UI publisher, the clock, and the device registry.
type ExecutionContext struct {
	Tx        *store.Tx
	Outbound  *OutboundQueue
	Commands  *CommandQueue
	Publisher Publisher
	Clock     device.Clock
	Devices   map[domain.DeviceKind]*device.Device
	MyAddress byte
}

// Enqueue re-enqueues cmd onto the command queue; used by commands that
// spawn follow-up work (EvaluateMeasure/EvaluateDevice spawn
// RegulateTemperature).
func (ectx *ExecutionContext) Enqueue(cmd Command) {
	ectx.Commands.Enqueue(cmd)
}

// Device looks up the device for kind. Callers can rely on both kinds
// always being registered.
func (ectx *ExecutionContext) Device(kind domain.DeviceKind) *device.Device {
	return ectx.Devices[kind]
}
