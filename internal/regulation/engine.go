package regulation

import (
	"log"
	"time"

	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

// Regulate implements RegulateTemperature: given a single device/measure
// reading/threshold triple, decide whether the device should act and, if
// so, act through dev.
//
// If the device is offline it is assumed off and the function returns
// without touching the reading at all.
func Regulate(tx *store.Tx, dev *device.Device, measureKind domain.MeasureKind, temperature, target float64, now time.Time) error {
	available, err := dev.IsAvailable(tx)
	if err != nil {
		return err
	}
	if !available {
		return dev.AssumeOffStatus(tx)
	}

	recordDecision(dev.Kind, measureKind, temperature, target)

	shouldCool, err := shouldCool(tx, dev, measureKind, temperature, target, now)
	if err != nil {
		return err
	}
	if shouldCool {
		inGrace, err := dev.IsInCoolingGracePeriod(tx)
		if err != nil {
			return err
		}
		if !inGrace {
			if err := dev.StartCoolDown(tx); err != nil {
				return err
			}
			recordTransition(dev.Kind, "cool_down")
		} else {
			log.Printf("regulation: %s would cool down (%s at %.2f, target %.2f) but is in its grace period", dev.Kind, measureKind, temperature, target)
		}
		return nil
	}

	shouldWarm, err := shouldWarm(tx, dev, measureKind, temperature, target, now)
	if err != nil {
		return err
	}
	if shouldWarm {
		inGrace, err := dev.IsInWarmingGracePeriod(tx)
		if err != nil {
			return err
		}
		if !inGrace {
			if err := dev.StartWarmUp(tx); err != nil {
				return err
			}
			recordTransition(dev.Kind, "warm_up")
		} else {
			log.Printf("regulation: %s would warm up (%s at %.2f, target %.2f) but is in its grace period", dev.Kind, measureKind, temperature, target)
		}
	}
	return nil
}

func shouldCool(tx *store.Tx, dev *device.Device, measureKind domain.MeasureKind, temperature, target float64, now time.Time) (bool, error) {
	canCoolDown, err := dev.CanStartCoolDown(tx)
	if err != nil || !canCoolDown {
		return false, err
	}

	coolDown := CoolDownThreshold(dev.Kind, target)
	if temperature > coolDown {
		return true, nil
	}

	isOn, err := dev.IsTurnedOn(tx)
	if err != nil || !isOn {
		return false, err
	}
	powerSave := PowerSaveThreshold(dev.Kind, target)
	if temperature <= powerSave {
		return false, nil
	}
	return coastingAllowsCool(tx, measureKind, powerSave, now)
}

func shouldWarm(tx *store.Tx, dev *device.Device, measureKind domain.MeasureKind, temperature, target float64, now time.Time) (bool, error) {
	canWarmUp, err := dev.CanStartWarmUp(tx)
	if err != nil || !canWarmUp {
		return false, err
	}

	warmUp := WarmUpThreshold(dev.Kind, target)
	if temperature < warmUp {
		return true, nil
	}

	isOn, err := dev.IsTurnedOn(tx)
	if err != nil || !isOn {
		return false, err
	}
	powerSave := PowerSaveThreshold(dev.Kind, target)
	if temperature >= powerSave {
		return false, nil
	}
	return coastingAllowsWarm(tx, measureKind, powerSave, now)
}
