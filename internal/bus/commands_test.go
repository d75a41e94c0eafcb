package bus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakePublisher struct {
	measures  []domain.SensorMeasure
	statuses  []domain.PowerStatus
	thresholds []domain.ThresholdTemperature
	away      []domain.PowerStatus
}

func (p *fakePublisher) PublishMeasure(m domain.SensorMeasure) { p.measures = append(p.measures, m) }
func (p *fakePublisher) PublishPing(domain.DevicePing)         {}
func (p *fakePublisher) PublishDeviceStatus(kind domain.DeviceKind, status domain.PowerStatus, at time.Time) {
	p.statuses = append(p.statuses, status)
}
func (p *fakePublisher) PublishDeviceControl(domain.DeviceKind, map[domain.OperatingMode][]domain.MeasureKind) {
}
func (p *fakePublisher) PublishThreshold(th domain.ThresholdTemperature) {
	p.thresholds = append(p.thresholds, th)
}
func (p *fakePublisher) PublishAwayStatus(status domain.PowerStatus) { p.away = append(p.away, status) }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newExecutionContext(s *store.Store, now time.Time, pub Publisher) (*store.Tx, *ExecutionContext, func()) {
	tx, err := s.Begin(context.Background())
	if err != nil {
		panic(err)
	}
	outbound := NewOutboundQueue()
	commands := NewCommandQueue()
	clock := fixedClock{now}
	devices := map[domain.DeviceKind]*device.Device{
		domain.Heating: device.New(domain.Heating, 0x01, clock, outbound, pub),
		domain.Cooling: device.New(domain.Cooling, 0x01, clock, outbound, pub),
	}
	ectx := &ExecutionContext{
		Tx: tx, Outbound: outbound, Commands: commands, Publisher: pub, Clock: clock, Devices: devices, MyAddress: 0x01,
	}
	return tx, ectx, func() { tx.Rollback() }
}

// Scenario 5: two-sensor tie-breaking — the lower reading wins.
func TestEvaluateDeviceSelectsLowestTemperature(t *testing.T) {
	s := openTestStore(t)
	at := dayTime(time.Now().UTC())
	pub := &fakePublisher{}

	err := store.WithTx(context.Background(), s, func(tx *store.Tx) error {
		if err := tx.SavePing(domain.DevicePing{Timestamp: at.Add(-30 * time.Second), Kind: domain.Heating}); err != nil {
			return err
		}
		if err := tx.SaveStatus(domain.DeviceStatus{Timestamp: at.Add(-600 * time.Second), Kind: domain.Heating, Status: domain.Off}); err != nil {
			return err
		}
		if err := tx.UpsertThreshold(domain.ThresholdTemperature{DeviceKind: domain.Heating, OperatingMode: domain.Day, TemperatureCenti: 2000}); err != nil {
			return err
		}
		if err := tx.ReplaceDeviceControl([]domain.DeviceControl{
			{DeviceKind: domain.Heating, MeasureKind: domain.Bedroom, OperatingMode: domain.Day},
			{DeviceKind: domain.Heating, MeasureKind: domain.LivingRoom, OperatingMode: domain.Day},
		}); err != nil {
			return err
		}
		if err := tx.SaveMeasure(domain.SensorMeasure{Timestamp: at, Kind: domain.Bedroom, Temperature: 19.90}); err != nil {
			return err
		}
		return tx.SaveMeasure(domain.SensorMeasure{Timestamp: at, Kind: domain.LivingRoom, Temperature: 18.60})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, ectx, cleanup := newExecutionContext(s, at, pub)
	defer cleanup()

	cmd := EvaluateDeviceCommand{Device: domain.Heating}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	popped, ok := ectx.Commands.Pop(0)
	if !ok {
		t.Fatal("EvaluateDeviceCommand did not enqueue a follow-up command")
	}
	reg, ok := popped.(RegulateTemperatureCommand)
	if !ok {
		t.Fatalf("enqueued command is %T, want RegulateTemperatureCommand", popped)
	}
	if reg.Measure != domain.LivingRoom {
		t.Fatalf("selected measure = %v, want LIVING_ROOM (the lower reading)", reg.Measure)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// dayTime returns a weekday daytime instant carrying t's date, used so
// tests are independent of when they happen to run.
func dayTime(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.Add(24 * time.Hour)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 10, 0, 0, 0, time.UTC)
}

func TestUpdateConfigurationReEvaluatesEveryDevice(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	pub := &fakePublisher{}

	tx, ectx, cleanup := newExecutionContext(s, now, pub)
	defer cleanup()

	away := true
	cmd := UpdateConfigurationCommand{Payload: ConfigPayload{IsAway: &away}}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	seen := map[domain.DeviceKind]bool{}
	for i := 0; i < 2; i++ {
		popped, ok := ectx.Commands.Pop(0)
		if !ok {
			t.Fatalf("expected 2 follow-up commands, got %d", i)
		}
		ev, ok := popped.(EvaluateDeviceCommand)
		if !ok {
			t.Fatalf("enqueued command is %T, want EvaluateDeviceCommand", popped)
		}
		seen[ev.Device] = true
	}
	if !seen[domain.Heating] || !seen[domain.Cooling] {
		t.Fatalf("did not re-evaluate both devices: %+v", seen)
	}
	if len(pub.away) != 1 || pub.away[0] != domain.On {
		t.Fatalf("away publish = %+v, want one On", pub.away)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRecordDeviceStatusAgreeingPingIsNoop(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	pub := &fakePublisher{}

	err := store.WithTx(context.Background(), s, func(tx *store.Tx) error {
		return tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-time.Minute), Kind: domain.Heating, Status: domain.Off})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, ectx, cleanup := newExecutionContext(s, now, pub)
	defer cleanup()

	cmd := RecordDeviceStatusCommand{Status: domain.DeviceStatus{Timestamp: now, Kind: domain.Heating, Status: domain.Off}}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pub.statuses) != 0 {
		t.Fatalf("published %d statuses for an agreeing ping, want 0", len(pub.statuses))
	}

	last, err := tx.LastTransition(domain.Heating, domain.Off)
	if err != nil {
		t.Fatalf("LastTransition: %v", err)
	}
	if !last.Timestamp.Equal(now.Add(-time.Minute)) {
		t.Fatalf("last transition timestamp = %v, want unchanged at %v", last.Timestamp, now.Add(-time.Minute))
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRecordDeviceStatusDisagreeingPingWrites(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	pub := &fakePublisher{}

	err := store.WithTx(context.Background(), s, func(tx *store.Tx) error {
		return tx.SaveStatus(domain.DeviceStatus{Timestamp: now.Add(-time.Minute), Kind: domain.Heating, Status: domain.Off})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, ectx, cleanup := newExecutionContext(s, now, pub)
	defer cleanup()

	cmd := RecordDeviceStatusCommand{Status: domain.DeviceStatus{Timestamp: now, Kind: domain.Heating, Status: domain.On}}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pub.statuses) != 1 || pub.statuses[0] != domain.On {
		t.Fatalf("published statuses = %+v, want one On", pub.statuses)
	}

	current, err := tx.CurrentStatus(domain.Heating)
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}
	if current != domain.On {
		t.Fatalf("current status = %v, want On", current)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// Away mode must override comfort-mode device_control wiring end to end,
// including the sibling set used for EvaluateMeasure's tie-breaking, not
// just the top-level regulation target. Heating's comfort-mode (Day)
// wiring deliberately leaves Heating unconfigured, so a sibling lookup
// keyed on the literal operating mode would see no siblings at all and
// fail to suppress Bedroom's regulation in favor of the colder
// LivingRoom reading.
func TestEvaluateMeasureUsesAwayAwareSiblings(t *testing.T) {
	s := openTestStore(t)
	at := dayTime(time.Now().UTC())
	pub := &fakePublisher{}

	err := store.WithTx(context.Background(), s, func(tx *store.Tx) error {
		if err := tx.SaveAwayStatus(domain.AwayStatus{Timestamp: at.Add(-time.Hour), Status: domain.On}); err != nil {
			return err
		}
		if err := tx.SaveMeasure(domain.SensorMeasure{Timestamp: at, Kind: domain.LivingRoom, Temperature: 5.0}); err != nil {
			return err
		}
		return tx.SaveMeasure(domain.SensorMeasure{Timestamp: at, Kind: domain.Bedroom, Temperature: 14.0})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, ectx, cleanup := newExecutionContext(s, at, pub)
	defer cleanup()

	cmd := EvaluateMeasureCommand{Measure: domain.Bedroom}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if popped, ok := ectx.Commands.Pop(0); ok {
		t.Fatalf("Bedroom's regulation should be suppressed by the colder away-mode LivingRoom reading, got %+v", popped)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestSaveMeasureEnqueuesEvaluateMeasure(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	pub := &fakePublisher{}

	tx, ectx, cleanup := newExecutionContext(s, now, pub)
	defer cleanup()

	cmd := SaveMeasureCommand{Measure: domain.SensorMeasure{Timestamp: now, Kind: domain.LivingRoom, Temperature: 21.0}}
	if err := cmd.Execute(ectx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	popped, ok := ectx.Commands.Pop(0)
	if !ok {
		t.Fatal("SaveMeasureCommand did not enqueue EvaluateMeasureCommand")
	}
	if ev, ok := popped.(EvaluateMeasureCommand); !ok || ev.Measure != domain.LivingRoom {
		t.Fatalf("enqueued command = %+v, want EvaluateMeasureCommand{LIVING_ROOM}", popped)
	}
	if len(pub.measures) != 1 {
		t.Fatalf("published %d measures, want 1", len(pub.measures))
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
