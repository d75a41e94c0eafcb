package bus

import (
	"log"
	"time"

	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/regulation"
	"github.com/climateguard/climateguard/internal/store"
)

// SaveMeasureCommand persists one inbound sensor reading and fans it out
// to the UI, then spawns an EvaluateMeasure for it.
type SaveMeasureCommand struct {
	Measure domain.SensorMeasure
}

func (c SaveMeasureCommand) Execute(ectx *ExecutionContext) error {
	if err := ectx.Tx.SaveMeasure(c.Measure); err != nil {
		return err
	}
	ectx.Publisher.PublishMeasure(c.Measure)
	ectx.Enqueue(EvaluateMeasureCommand{Measure: c.Measure.Kind})
	return nil
}

// SavePingCommand persists one liveness frame and fans it out.
type SavePingCommand struct {
	Ping domain.DevicePing
}

func (c SavePingCommand) Execute(ectx *ExecutionContext) error {
	if err := ectx.Tx.SavePing(c.Ping); err != nil {
		return err
	}
	ectx.Publisher.PublishPing(c.Ping)
	return nil
}

// RecordDeviceStatusCommand persists a status report received directly
// from a device (as opposed to a transition the engine itself commands)
// and fans it out, but only if the reported flag disagrees with the
// currently recorded status; an agreeing ping is a no-op.
type RecordDeviceStatusCommand struct {
	Status domain.DeviceStatus
}

func (c RecordDeviceStatusCommand) Execute(ectx *ExecutionContext) error {
	current, err := ectx.Tx.CurrentStatus(c.Status.Kind)
	if err != nil {
		return err
	}
	if current == c.Status.Status {
		return nil
	}
	if err := ectx.Tx.SaveStatus(c.Status); err != nil {
		return err
	}
	ectx.Publisher.PublishDeviceStatus(c.Status.Kind, c.Status.Status, c.Status.Timestamp)
	return nil
}

// RespondNonceRequestCommand answers a peer's nonce-request (bootstrap
// or resync) by recording the exchange and handing the peer's last known
// inbound nonce back to the radio worker via Reply.
type RespondNonceRequestCommand struct {
	Peer         byte
	RequestNonce uint32
	Reply        func(lastInboundNonce uint32)
}

func (c RespondNonceRequestCommand) Execute(ectx *ExecutionContext) error {
	last, err := ectx.Tx.InboundNonce(c.Peer)
	if err != nil {
		return err
	}
	if err := ectx.Tx.LogNonceRequestResponse(c.Peer, c.RequestNonce, last, ectx.Clock.Now()); err != nil {
		return err
	}
	if c.Reply != nil {
		c.Reply(last)
	}
	return nil
}

// EvaluateMeasureCommand implements EvaluateMeasure: a newly-arrived
// reading only drives a device if it is the most constraining fresh
// sample among the sensors that also control it.
type EvaluateMeasureCommand struct {
	Measure domain.MeasureKind
}

func (c EvaluateMeasureCommand) Execute(ectx *ExecutionContext) error {
	now := ectx.Clock.Now()
	regs, err := regulation.ResolveForMeasure(ectx.Tx, now, c.Measure)
	if err != nil {
		return err
	}
	if len(regs) == 0 {
		return nil
	}

	measure, err := ectx.Tx.LatestMeasure(c.Measure, now.Add(-regulation.FreshnessWindow))
	if err != nil {
		return err
	}
	if measure == nil {
		return nil
	}

	for _, reg := range regs {
		// Re-resolve through the away-aware resolver, the same one regs
		// itself came from, so the sibling set reflects whatever
		// currently controls reg.Device (comfort-mode wiring or the away
		// override) instead of the literal operating mode's
		// device_control rows.
		siblings, err := regulation.ResolveForDevice(ectx.Tx, now, reg.Device)
		if err != nil {
			return err
		}
		overridden, err := anySiblingLower(ectx.Tx, siblings, c.Measure, measure.Temperature, now)
		if err != nil {
			return err
		}
		if overridden {
			continue
		}
		ectx.Enqueue(RegulateTemperatureCommand{
			Device:  reg.Device,
			Measure: c.Measure,
			Target:  reg.Target,
		})
	}
	return nil
}

func anySiblingLower(tx *store.Tx, siblings []regulation.Regulation, exclude domain.MeasureKind, temperature float64, now time.Time) (bool, error) {
	for _, sib := range siblings {
		if sib.Measure == exclude {
			continue
		}
		sample, err := tx.LatestMeasure(sib.Measure, now.Add(-regulation.FreshnessWindow))
		if err != nil {
			return false, err
		}
		if sample != nil && sample.Temperature < temperature {
			return true, nil
		}
	}
	return false, nil
}

// EvaluateDeviceCommand implements EvaluateDevice: aggregate across
// every measure currently configured to control this device and
// regulate against the most constraining one.
type EvaluateDeviceCommand struct {
	Device domain.DeviceKind
}

func (c EvaluateDeviceCommand) Execute(ectx *ExecutionContext) error {
	now := ectx.Clock.Now()
	regs, err := regulation.ResolveForDevice(ectx.Tx, now, c.Device)
	if err != nil {
		return err
	}
	if len(regs) == 0 {
		return c.turnOffUnmanaged(ectx)
	}

	type candidate struct {
		measure     domain.MeasureKind
		target      float64
		temperature float64
	}
	var best *candidate
	for _, reg := range regs {
		sample, err := ectx.Tx.LatestMeasure(reg.Measure, now.Add(-regulation.FreshnessWindow))
		if err != nil {
			return err
		}
		if sample == nil {
			continue
		}
		if best == nil || sample.Temperature < best.temperature {
			best = &candidate{measure: reg.Measure, target: reg.Target, temperature: sample.Temperature}
		}
	}
	if best == nil {
		return nil
	}

	ectx.Enqueue(RegulateTemperatureCommand{Device: c.Device, Measure: best.measure, Target: best.target})
	return nil
}

func (c EvaluateDeviceCommand) turnOffUnmanaged(ectx *ExecutionContext) error {
	dev := ectx.Device(c.Device)
	on, err := dev.IsTurnedOn(ectx.Tx)
	if err != nil || !on {
		return err
	}
	canTurnOff, err := dev.CanTurnOff(ectx.Tx)
	if err != nil {
		return err
	}
	if !canTurnOff {
		log.Printf("bus: %s is unregulated and on, but cannot be turned off now (offline or in grace period)", c.Device)
		return nil
	}
	return dev.TurnOff(ectx.Tx)
}

// RegulateTemperatureCommand implements RegulateTemperature.
type RegulateTemperatureCommand struct {
	Device  domain.DeviceKind
	Measure domain.MeasureKind
	Target  float64
}

func (c RegulateTemperatureCommand) Execute(ectx *ExecutionContext) error {
	dev := ectx.Device(c.Device)
	sample, err := ectx.Tx.LatestMeasure(c.Measure, ectx.Clock.Now().Add(-regulation.FreshnessWindow))
	if err != nil {
		return err
	}
	if sample == nil {
		return nil
	}
	return regulation.Regulate(ectx.Tx, dev, c.Measure, sample.Temperature, c.Target, ectx.Clock.Now())
}

// InitializeDisplayCommand pushes the full current snapshot to one
// newly-joined listener.
type InitializeDisplayCommand struct {
	Push func(store.Snapshot)
}

func (c InitializeDisplayCommand) Execute(ectx *ExecutionContext) error {
	snap, err := ectx.Tx.BuildSnapshot()
	if err != nil {
		return err
	}
	c.Push(snap)
	return nil
}

// ConfigPayload is the decoded form of an inbound UI listener message;
// any of its fields may be absent.
type ConfigPayload struct {
	IsAway               *bool
	ThresholdTemperature map[domain.DeviceKind]map[domain.OperatingMode]float64
	ControlMeasures      map[domain.DeviceKind]map[domain.OperatingMode][]domain.MeasureKind
}

// UpdateConfigurationCommand applies a listener-supplied configuration
// change and re-evaluates every device kind afterward.
type UpdateConfigurationCommand struct {
	Payload ConfigPayload
}

func (c UpdateConfigurationCommand) Execute(ectx *ExecutionContext) error {
	now := ectx.Clock.Now()

	if c.Payload.IsAway != nil {
		status := domain.Off
		if *c.Payload.IsAway {
			status = domain.On
		}
		if err := ectx.Tx.SaveAwayStatus(domain.AwayStatus{Timestamp: now, Status: status}); err != nil {
			return err
		}
		ectx.Publisher.PublishAwayStatus(status)
	}

	for deviceKind, byMode := range c.Payload.ThresholdTemperature {
		for mode, celsius := range byMode {
			th := domain.ThresholdTemperature{
				DeviceKind:       deviceKind,
				OperatingMode:    mode,
				TemperatureCenti: domain.CentiFromCelsius(celsius),
			}
			if err := ectx.Tx.UpsertThreshold(th); err != nil {
				return err
			}
			ectx.Publisher.PublishThreshold(th)
		}
	}

	if c.Payload.ControlMeasures != nil {
		var all []domain.DeviceControl
		for deviceKind, byMode := range c.Payload.ControlMeasures {
			for mode, measures := range byMode {
				for _, m := range measures {
					all = append(all, domain.DeviceControl{DeviceKind: deviceKind, MeasureKind: m, OperatingMode: mode})
				}
			}
		}
		if err := ectx.Tx.ReplaceDeviceControl(all); err != nil {
			return err
		}
		for deviceKind, byMode := range c.Payload.ControlMeasures {
			ectx.Publisher.PublishDeviceControl(deviceKind, byMode)
		}
	}

	for kind := range ectx.Devices {
		ectx.Enqueue(EvaluateDeviceCommand{Device: kind})
	}
	return nil
}
