package regulation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
	"github.com/climateguard/climateguard/internal/wire"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeOutbound struct{ frames []wire.Frame }

func (f *fakeOutbound) Enqueue(fr wire.Frame) { f.frames = append(f.frames, fr) }

type fakePublisher struct{}

func (fakePublisher) PublishDeviceStatus(domain.DeviceKind, domain.PowerStatus, time.Time) {}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1 from the end-to-end scenario list: a warm room with the
// cooler idle turns the cooler on.
func TestRegulateWarmRoomTurnsCoolingOn(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	ob := &fakeOutbound{}
	dev := device.New(domain.Cooling, 0x01, fixedClock{now}, ob, fakePublisher{})

	ctx := context.Background()
	err := store.WithTx(ctx, s, func(tx *store.Tx) error {
		if err := tx.SavePing(domain.DevicePing{Timestamp: now.Add(-30 * time.Second), Kind: domain.Cooling}); err != nil {
			return err
		}
		return tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-600 * time.Second), Kind: domain.Cooling, Status: domain.Off})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		return Regulate(tx, dev, domain.LivingRoom, 25.60, 25.00, now)
	})
	if err != nil {
		t.Fatalf("Regulate: %v", err)
	}

	if len(ob.frames) != 2 {
		t.Fatalf("enqueued %d frames, want 2", len(ob.frames))
	}
	if ob.frames[0].Nonce == ob.frames[1].Nonce {
		t.Fatalf("both frames used nonce %d, want monotonically increasing nonces", ob.frames[0].Nonce)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		status, err := tx.CurrentStatus(domain.Cooling)
		if err != nil {
			return err
		}
		if status != domain.On {
			t.Fatalf("CurrentStatus = %v, want On", status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

// Scenario 2: the cooler just turned on, so it's inside its grace
// period, so nothing happens even though the room is warm.
func TestRegulateBlockedByGracePeriod(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	ob := &fakeOutbound{}
	dev := device.New(domain.Cooling, 0x01, fixedClock{now}, ob, fakePublisher{})

	ctx := context.Background()
	err := store.WithTx(ctx, s, func(tx *store.Tx) error {
		if err := tx.SavePing(domain.DevicePing{Timestamp: now.Add(-30 * time.Second), Kind: domain.Cooling}); err != nil {
			return err
		}
		return tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-60 * time.Second), Kind: domain.Cooling, Status: domain.On})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		return Regulate(tx, dev, domain.LivingRoom, 25.60, 25.00, now)
	})
	if err != nil {
		t.Fatalf("Regulate: %v", err)
	}

	if len(ob.frames) != 0 {
		t.Fatalf("enqueued %d frames, want 0 (in grace period)", len(ob.frames))
	}
}

// Scenario 3: cool coasting — the room has been sitting in the
// comfortable zone the whole power-save window, so a reading above
// power-save but below cool-down still triggers an early shutoff.
func TestRegulateCoolCoastingTurnsOff(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	ob := &fakeOutbound{}
	dev := device.New(domain.Cooling, 0x01, fixedClock{now}, ob, fakePublisher{})

	ctx := context.Background()
	err := store.WithTx(ctx, s, func(tx *store.Tx) error {
		if err := tx.SavePing(domain.DevicePing{Timestamp: now.Add(-30 * time.Second), Kind: domain.Cooling}); err != nil {
			return err
		}
		if err := tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-30 * time.Minute), Kind: domain.Cooling, Status: domain.On}); err != nil {
			return err
		}
		for i := 0; i < 20; i++ {
			temp := 24.70 + float64(i%10)/100
			if err := tx.SaveMeasure(domain.SensorMeasure{
				Timestamp: now.Add(time.Duration(-20+i) * time.Minute), Kind: domain.LivingRoom, Temperature: temp,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		return Regulate(tx, dev, domain.LivingRoom, 24.76, 25.00, now)
	})
	if err != nil {
		t.Fatalf("Regulate: %v", err)
	}

	if len(ob.frames) != 2 {
		t.Fatalf("enqueued %d frames, want 2 (power-save turn-off)", len(ob.frames))
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		status, err := tx.CurrentStatus(domain.Cooling)
		if err != nil {
			return err
		}
		if status != domain.Off {
			t.Fatalf("CurrentStatus = %v, want Off", status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func TestRegulateOfflineDeviceAssumesOff(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	dev := device.New(domain.Heating, 0x01, fixedClock{now}, &fakeOutbound{}, fakePublisher{})

	ctx := context.Background()
	err := store.WithTx(ctx, s, func(tx *store.Tx) error {
		return tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-time.Hour), Kind: domain.Heating, Status: domain.On})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		return Regulate(tx, dev, domain.LivingRoom, 15.0, 20.0, now)
	})
	if err != nil {
		t.Fatalf("Regulate: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		status, err := tx.CurrentStatus(domain.Heating)
		if err != nil {
			return err
		}
		if status != domain.Off {
			t.Fatalf("CurrentStatus = %v, want Off (assumed offline)", status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

// Scenario 4, resolver half: under away mode the bedroom resolves to one
// HEATING regulation at the anti-freeze target even though no comfort
// control is configured, while OUTDOOR and COOLING resolve to nothing.
func TestResolveAwayRegulationsAnchorOnAntiFreeze(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	ctx := context.Background()
	err := store.WithTx(ctx, s, func(tx *store.Tx) error {
		return tx.SaveAwayStatus(domain.AwayStatus{Timestamp: now, Status: domain.On})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.WithTx(ctx, s, func(tx *store.Tx) error {
		regs, err := ResolveForMeasure(tx, now, domain.Bedroom)
		if err != nil {
			return err
		}
		if len(regs) != 1 || regs[0].Device != domain.Heating || regs[0].Target != domain.AntiFreezeCelsius {
			t.Fatalf("ResolveForMeasure(BEDROOM) = %+v, want one HEATING/15.0 regulation", regs)
		}

		outdoor, err := ResolveForMeasure(tx, now, domain.Outdoor)
		if err != nil {
			return err
		}
		if len(outdoor) != 0 {
			t.Fatalf("ResolveForMeasure(OUTDOOR) = %+v, want empty under away mode", outdoor)
		}

		cooling, err := ResolveForDevice(tx, now, domain.Cooling)
		if err != nil {
			return err
		}
		if len(cooling) != 0 {
			t.Fatalf("ResolveForDevice(COOLING) = %+v, want empty under away mode", cooling)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}
