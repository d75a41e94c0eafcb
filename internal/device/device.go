// Package device implements the temperature-controlling device
// abstraction: liveness tracking, the turn-on/turn-off grace period, and
// the cool-down/warm-up vocabulary the regulation engine drives. Heating
// and cooling are the same abstraction with an inverted sense of what
// "cooling down" and "warming up" mean in terms of on/off.
package device

import (
	"fmt"
	"time"

	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
	"github.com/climateguard/climateguard/internal/wire"
)

// MaxIntervalWithoutPing is how long a device can go without a liveness
// ping before it is considered offline.
const MaxIntervalWithoutPing = 180 * time.Second

// MinGracePeriod is the minimum time that must pass between a turn-off
// and the next turn-on (and vice versa), so relays aren't chattered.
const MinGracePeriod = 300 * time.Second

const (
	cmdTurnOn  byte = 0x01
	cmdTurnOff byte = 0x02
)

// Clock is the time source a Device consults; production wiring uses
// time.Now, tests supply a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// Outbound is the narrow interface a Device uses to hand off wire frames
// for transmission; the command executor's outbound queue satisfies it.
type Outbound interface {
	Enqueue(wire.Frame)
}

// Publisher is the narrow interface a Device uses to notify UI
// listeners of a status transition.
type Publisher interface {
	PublishDeviceStatus(kind domain.DeviceKind, status domain.PowerStatus, at time.Time)
}

// Device wraps one mains-switched appliance: its address on the radio
// link, and the clock/outbound/publisher collaborators it needs to
// evaluate and act on its own state.
type Device struct {
	Kind      domain.DeviceKind
	MyAddress byte
	Clock     Clock
	Outbound  Outbound
	Publisher Publisher
}

func New(kind domain.DeviceKind, myAddress byte, clock Clock, outbound Outbound, publisher Publisher) *Device {
	return &Device{Kind: kind, MyAddress: myAddress, Clock: clock, Outbound: outbound, Publisher: publisher}
}

// IsAvailable reports whether the device has pinged recently enough to
// be considered online.
func (d *Device) IsAvailable(tx *store.Tx) (bool, error) {
	last, err := tx.LatestPing(d.Kind)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return d.Clock.Now().Sub(last.Timestamp) < MaxIntervalWithoutPing, nil
}

// AssumeOffStatus records the device as off if it is not already known
// to be off. Used when the device has gone offline and its last known
// state can no longer be trusted as "on".
func (d *Device) AssumeOffStatus(tx *store.Tx) error {
	current, err := tx.CurrentStatus(d.Kind)
	if err != nil {
		return err
	}
	if current == domain.Off {
		return nil
	}
	now := d.Clock.Now()
	if err := tx.SaveStatus(domain.DeviceStatus{Timestamp: now, Kind: d.Kind, Status: domain.Off}); err != nil {
		return err
	}
	d.Publisher.PublishDeviceStatus(d.Kind, domain.Off, now)
	return nil
}

// IsTurnedOn reports whether the device's current recorded status is on.
func (d *Device) IsTurnedOn(tx *store.Tx) (bool, error) {
	status, err := tx.CurrentStatus(d.Kind)
	if err != nil {
		return false, err
	}
	return status == domain.On, nil
}

// IsTurnedOff reports whether the device's current recorded status is
// off.
func (d *Device) IsTurnedOff(tx *store.Tx) (bool, error) {
	status, err := tx.CurrentStatus(d.Kind)
	if err != nil {
		return false, err
	}
	return status == domain.Off, nil
}

// CanTurnOn reports whether the device is available and outside the
// grace period following its last turn-off.
func (d *Device) CanTurnOn(tx *store.Tx) (bool, error) {
	available, err := d.IsAvailable(tx)
	if err != nil || !available {
		return false, err
	}
	lastOff, err := tx.LastTransition(d.Kind, domain.Off)
	if err != nil {
		return false, err
	}
	if lastOff == nil {
		return true, nil
	}
	return d.Clock.Now().Sub(lastOff.Timestamp) > MinGracePeriod, nil
}

// CanTurnOff reports whether the device is available and outside the
// grace period following its last turn-on.
func (d *Device) CanTurnOff(tx *store.Tx) (bool, error) {
	available, err := d.IsAvailable(tx)
	if err != nil || !available {
		return false, err
	}
	lastOn, err := tx.LastTransition(d.Kind, domain.On)
	if err != nil {
		return false, err
	}
	if lastOn == nil {
		return true, nil
	}
	return d.Clock.Now().Sub(lastOn.Timestamp) > MinGracePeriod, nil
}

// TurnOn records the device as on and enqueues its turn-on command
// twice, since the link is half-duplex and unacknowledged — sending
// twice covers the occasional dropped frame without a retry protocol.
func (d *Device) TurnOn(tx *store.Tx) error {
	ok, err := d.CanTurnOn(tx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("device: turn on %s while unavailable or in grace period", d.Kind)
	}
	now := d.Clock.Now()
	if err := tx.SaveStatus(domain.DeviceStatus{Timestamp: now, Kind: d.Kind, Status: domain.On}); err != nil {
		return err
	}
	d.Publisher.PublishDeviceStatus(d.Kind, domain.On, now)
	return d.send(tx, cmdTurnOn)
}

// TurnOff records the device as off and enqueues its turn-off command
// twice, mirroring TurnOn.
func (d *Device) TurnOff(tx *store.Tx) error {
	ok, err := d.CanTurnOff(tx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("device: turn off %s while unavailable or in grace period", d.Kind)
	}
	now := d.Clock.Now()
	if err := tx.SaveStatus(domain.DeviceStatus{Timestamp: now, Kind: d.Kind, Status: domain.Off}); err != nil {
		return err
	}
	d.Publisher.PublishDeviceStatus(d.Kind, domain.Off, now)
	return d.send(tx, cmdTurnOff)
}

// send enqueues command twice, each copy under its own freshly
// incremented outbound nonce so the peer's replay check accepts both.
func (d *Device) send(tx *store.Tx, command byte) error {
	var frames [2]wire.Frame
	for i := range frames {
		nonce, err := tx.NextOutboundNonce(byte(d.Kind))
		if err != nil {
			// The nonce counter is persisted in the same transaction as
			// the status change above; returning the error rolls that
			// transaction back and the command is never sent.
			return err
		}
		frames[i] = wire.Frame{Nonce: nonce, From: d.MyAddress, To: byte(d.Kind), Command: command}
	}
	for _, f := range frames {
		d.Outbound.Enqueue(f)
	}
	return nil
}

// CanStartCoolDown reports whether the device can currently act to push
// the temperature down: a heater by being on (so it can be turned off),
// an air conditioner by being off (so it can be turned on).
func (d *Device) CanStartCoolDown(tx *store.Tx) (bool, error) {
	if d.Kind == domain.Heating {
		return d.IsTurnedOn(tx)
	}
	return d.IsTurnedOff(tx)
}

// IsInCoolingGracePeriod reports whether the grace period currently
// blocks the transition CanStartCoolDown would need.
func (d *Device) IsInCoolingGracePeriod(tx *store.Tx) (bool, error) {
	var ok bool
	var err error
	if d.Kind == domain.Heating {
		ok, err = d.CanTurnOff(tx)
	} else {
		ok, err = d.CanTurnOn(tx)
	}
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// StartCoolDown performs the transition that pushes the temperature
// down.
func (d *Device) StartCoolDown(tx *store.Tx) error {
	if d.Kind == domain.Heating {
		return d.TurnOff(tx)
	}
	return d.TurnOn(tx)
}

// CanStartWarmUp reports whether the device can currently act to push
// the temperature up.
func (d *Device) CanStartWarmUp(tx *store.Tx) (bool, error) {
	if d.Kind == domain.Heating {
		return d.IsTurnedOff(tx)
	}
	return d.IsTurnedOn(tx)
}

// IsInWarmingGracePeriod reports whether the grace period currently
// blocks the transition CanStartWarmUp would need.
func (d *Device) IsInWarmingGracePeriod(tx *store.Tx) (bool, error) {
	var ok bool
	var err error
	if d.Kind == domain.Heating {
		ok, err = d.CanTurnOn(tx)
	} else {
		ok, err = d.CanTurnOff(tx)
	}
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// StartWarmUp performs the transition that pushes the temperature up.
func (d *Device) StartWarmUp(tx *store.Tx) error {
	if d.Kind == domain.Heating {
		return d.TurnOn(tx)
	}
	return d.TurnOff(tx)
}
