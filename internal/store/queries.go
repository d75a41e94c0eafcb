package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/climateguard/climateguard/internal/domain"
)

func unixNano(t time.Time) int64 { return t.UnixNano() }
func fromNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// SaveMeasure appends one sensor reading. Measures are append-only.
func (t *Tx) SaveMeasure(m domain.SensorMeasure) error {
	_, err := t.tx.Exec(
		`INSERT INTO sensor_measure (timestamp, kind, temperature, humidity, voltage) VALUES (?, ?, ?, ?, ?)`,
		unixNano(m.Timestamp), byte(m.Kind), m.Temperature, nullableFloat(m.Humidity), nullableFloat(m.Voltage),
	)
	if err != nil {
		return fmt.Errorf("store: save measure: %w", err)
	}
	return nil
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// LatestMeasure returns the most recent reading for kind at or after
// since, or nil if there is none within that window (the 10-minute
// freshness window the regulation engine uses throughout).
func (t *Tx) LatestMeasure(kind domain.MeasureKind, since time.Time) (*domain.SensorMeasure, error) {
	var row *sql.Row
	if since.IsZero() {
		row = t.tx.QueryRow(
			`SELECT timestamp, temperature, humidity, voltage FROM sensor_measure
			 WHERE kind = ? ORDER BY timestamp DESC LIMIT 1`,
			byte(kind),
		)
	} else {
		row = t.tx.QueryRow(
			`SELECT timestamp, temperature, humidity, voltage FROM sensor_measure
			 WHERE kind = ? AND timestamp >= ? ORDER BY timestamp DESC LIMIT 1`,
			byte(kind), unixNano(since),
		)
	}
	var ts int64
	var temp float64
	var humidity, voltage sql.NullFloat64
	if err := row.Scan(&ts, &temp, &humidity, &voltage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest measure: %w", err)
	}
	m := &domain.SensorMeasure{Timestamp: fromNano(ts), Kind: kind, Temperature: temp}
	if humidity.Valid {
		m.Humidity = &humidity.Float64
	}
	if voltage.Valid {
		m.Voltage = &voltage.Float64
	}
	return m, nil
}

// AnyMeasureBelow reports whether a reading for kind strictly below
// threshold exists at or after since — used by the power-save predicate
// to decide whether the room has been coasting long enough.
func (t *Tx) AnyMeasureBelow(kind domain.MeasureKind, threshold float64, since time.Time) (bool, error) {
	return t.measureExists(kind, since, "temperature < ?", threshold)
}

// AnyMeasureAbove is the mirror of AnyMeasureBelow for the warm-up
// power-save predicate.
func (t *Tx) AnyMeasureAbove(kind domain.MeasureKind, threshold float64, since time.Time) (bool, error) {
	return t.measureExists(kind, since, "temperature > ?", threshold)
}

func (t *Tx) measureExists(kind domain.MeasureKind, since time.Time, cmp string, threshold float64) (bool, error) {
	var exists int
	err := t.tx.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM sensor_measure WHERE kind = ? AND timestamp >= ? AND `+cmp+`)`,
		byte(kind), unixNano(since), threshold,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: measure exists: %w", err)
	}
	return exists != 0, nil
}

// SavePing appends one liveness frame.
func (t *Tx) SavePing(p domain.DevicePing) error {
	_, err := t.tx.Exec(`INSERT INTO device_ping (timestamp, kind) VALUES (?, ?)`, unixNano(p.Timestamp), byte(p.Kind))
	if err != nil {
		return fmt.Errorf("store: save ping: %w", err)
	}
	return nil
}

// LatestPing returns the most recent ping for kind, or nil if the device
// has never pinged.
func (t *Tx) LatestPing(kind domain.DeviceKind) (*domain.DevicePing, error) {
	var ts int64
	err := t.tx.QueryRow(
		`SELECT timestamp FROM device_ping WHERE kind = ? ORDER BY timestamp DESC LIMIT 1`, byte(kind),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest ping: %w", err)
	}
	return &domain.DevicePing{Timestamp: fromNano(ts), Kind: kind}, nil
}

// SaveStatus appends one on/off transition.
func (t *Tx) SaveStatus(s domain.DeviceStatus) error {
	_, err := t.tx.Exec(
		`INSERT INTO device_status (timestamp, kind, status) VALUES (?, ?, ?)`,
		unixNano(s.Timestamp), byte(s.Kind), byte(s.Status),
	)
	if err != nil {
		return fmt.Errorf("store: save status: %w", err)
	}
	return nil
}

// CurrentStatus returns the latest status row for kind, or Off if there
// is none.
func (t *Tx) CurrentStatus(kind domain.DeviceKind) (domain.PowerStatus, error) {
	s, err := t.latestStatus(kind, nil)
	if err != nil {
		return domain.Off, err
	}
	if s == nil {
		return domain.Off, nil
	}
	return s.Status, nil
}

// LastTransition returns the most recent DeviceStatus row for kind whose
// status matches want, or nil if there has never been one. This is how
// the device abstraction finds "last turn off" (to gate CanTurnOn) and
// "last turn on" (to gate CanTurnOff).
func (t *Tx) LastTransition(kind domain.DeviceKind, want domain.PowerStatus) (*domain.DeviceStatus, error) {
	return t.latestStatus(kind, &want)
}

func (t *Tx) latestStatus(kind domain.DeviceKind, want *domain.PowerStatus) (*domain.DeviceStatus, error) {
	var row *sql.Row
	if want != nil {
		row = t.tx.QueryRow(
			`SELECT timestamp, status FROM device_status WHERE kind = ? AND status = ? ORDER BY timestamp DESC LIMIT 1`,
			byte(kind), byte(*want),
		)
	} else {
		row = t.tx.QueryRow(
			`SELECT timestamp, status FROM device_status WHERE kind = ? ORDER BY timestamp DESC LIMIT 1`, byte(kind),
		)
	}
	var ts int64
	var status byte
	if err := row.Scan(&ts, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: last transition: %w", err)
	}
	return &domain.DeviceStatus{Timestamp: fromNano(ts), Kind: kind, Status: domain.PowerStatus(status)}, nil
}

// UpsertThreshold replaces the threshold for (device, mode): at most one
// row per (device_kind, operating_mode).
func (t *Tx) UpsertThreshold(th domain.ThresholdTemperature) error {
	_, err := t.tx.Exec(
		`INSERT INTO threshold_temperature (device_kind, operating_mode, temperature_centi) VALUES (?, ?, ?)
		 ON CONFLICT (device_kind, operating_mode) DO UPDATE SET temperature_centi = excluded.temperature_centi`,
		byte(th.DeviceKind), byte(th.OperatingMode), th.TemperatureCenti,
	)
	if err != nil {
		return fmt.Errorf("store: upsert threshold: %w", err)
	}
	return nil
}

// Threshold returns the configured threshold for (device, mode), or nil
// if none has been configured yet.
func (t *Tx) Threshold(device domain.DeviceKind, mode domain.OperatingMode) (*domain.ThresholdTemperature, error) {
	var centi int64
	err := t.tx.QueryRow(
		`SELECT temperature_centi FROM threshold_temperature WHERE device_kind = ? AND operating_mode = ?`,
		byte(device), byte(mode),
	).Scan(&centi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: threshold: %w", err)
	}
	return &domain.ThresholdTemperature{DeviceKind: device, OperatingMode: mode, TemperatureCenti: centi}, nil
}

// AllThresholds returns every configured threshold, for the UI snapshot.
func (t *Tx) AllThresholds() ([]domain.ThresholdTemperature, error) {
	rows, err := t.tx.Query(`SELECT device_kind, operating_mode, temperature_centi FROM threshold_temperature`)
	if err != nil {
		return nil, fmt.Errorf("store: all thresholds: %w", err)
	}
	defer rows.Close()

	var out []domain.ThresholdTemperature
	for rows.Next() {
		var device, mode byte
		var centi int64
		if err := rows.Scan(&device, &mode, &centi); err != nil {
			return nil, fmt.Errorf("store: all thresholds: %w", err)
		}
		out = append(out, domain.ThresholdTemperature{
			DeviceKind: domain.DeviceKind(device), OperatingMode: domain.OperatingMode(mode), TemperatureCenti: centi,
		})
	}
	return out, rows.Err()
}

// ReplaceDeviceControl atomically replaces the entire control set with
// controls.
func (t *Tx) ReplaceDeviceControl(controls []domain.DeviceControl) error {
	if _, err := t.tx.Exec(`DELETE FROM device_control`); err != nil {
		return fmt.Errorf("store: replace device control: %w", err)
	}
	for _, c := range controls {
		if _, err := t.tx.Exec(
			`INSERT OR IGNORE INTO device_control (device_kind, measure_kind, operating_mode) VALUES (?, ?, ?)`,
			byte(c.DeviceKind), byte(c.MeasureKind), byte(c.OperatingMode),
		); err != nil {
			return fmt.Errorf("store: replace device control: %w", err)
		}
	}
	return nil
}

// DeviceControlsForDevice returns every (measure, mode) control entry for
// device in the given operating mode.
func (t *Tx) DeviceControlsForDevice(device domain.DeviceKind, mode domain.OperatingMode) ([]domain.DeviceControl, error) {
	return t.queryControls(`device_kind = ? AND operating_mode = ?`, byte(device), byte(mode))
}

// DeviceControlsForMeasure returns every (device, mode) control entry
// driven by measure in the given operating mode.
func (t *Tx) DeviceControlsForMeasure(measure domain.MeasureKind, mode domain.OperatingMode) ([]domain.DeviceControl, error) {
	return t.queryControls(`measure_kind = ? AND operating_mode = ?`, byte(measure), byte(mode))
}

func (t *Tx) queryControls(where string, args ...interface{}) ([]domain.DeviceControl, error) {
	rows, err := t.tx.Query(`SELECT device_kind, measure_kind, operating_mode FROM device_control WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: device controls: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceControl
	for rows.Next() {
		var device, measure, mode byte
		if err := rows.Scan(&device, &measure, &mode); err != nil {
			return nil, fmt.Errorf("store: device controls: %w", err)
		}
		out = append(out, domain.DeviceControl{
			DeviceKind: domain.DeviceKind(device), MeasureKind: domain.MeasureKind(measure), OperatingMode: domain.OperatingMode(mode),
		})
	}
	return out, rows.Err()
}

// SaveAwayStatus appends one away-mode transition.
func (t *Tx) SaveAwayStatus(a domain.AwayStatus) error {
	_, err := t.tx.Exec(`INSERT INTO away_status (timestamp, status) VALUES (?, ?)`, unixNano(a.Timestamp), byte(a.Status))
	if err != nil {
		return fmt.Errorf("store: save away status: %w", err)
	}
	return nil
}

// CurrentAwayStatus returns the latest away-status row's status, or Off
// (not away) if there is none.
func (t *Tx) CurrentAwayStatus() (domain.PowerStatus, error) {
	var status byte
	err := t.tx.QueryRow(`SELECT status FROM away_status ORDER BY timestamp DESC LIMIT 1`).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Off, nil
	}
	if err != nil {
		return domain.Off, fmt.Errorf("store: current away status: %w", err)
	}
	return domain.PowerStatus(status), nil
}

// InboundNonce returns the stored inbound nonce for peer, or 0 if the
// peer has never been seen (nonces are created lazily on first contact).
func (t *Tx) InboundNonce(peer byte) (uint32, error) {
	var nonce int64
	err := t.tx.QueryRow(`SELECT inbound FROM nonce WHERE peer = ?`, peer).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: inbound nonce: %w", err)
	}
	return uint32(nonce), nil
}

// SetInboundNonce records nonce as the last accepted inbound nonce for
// peer, creating the row if this is the first contact.
func (t *Tx) SetInboundNonce(peer byte, nonce uint32) error {
	_, err := t.tx.Exec(
		`INSERT INTO nonce (peer, inbound, outbound) VALUES (?, ?, 0)
		 ON CONFLICT (peer) DO UPDATE SET inbound = excluded.inbound`,
		peer, nonce,
	)
	if err != nil {
		return fmt.Errorf("store: set inbound nonce: %w", err)
	}
	return nil
}

// NextOutboundNonce increments and returns the outbound nonce for peer.
// Every outbound message uses a freshly incremented counter as its NONCE,
// so this is always strictly greater than the value returned by
// the previous call for the same peer.
func (t *Tx) NextOutboundNonce(peer byte) (uint32, error) {
	if _, err := t.tx.Exec(
		`INSERT INTO nonce (peer, inbound, outbound) VALUES (?, 0, 1)
		 ON CONFLICT (peer) DO UPDATE SET outbound = outbound + 1`,
		peer,
	); err != nil {
		return 0, fmt.Errorf("store: next outbound nonce: %w", err)
	}
	var nonce int64
	if err := t.tx.QueryRow(`SELECT outbound FROM nonce WHERE peer = ?`, peer).Scan(&nonce); err != nil {
		return 0, fmt.Errorf("store: next outbound nonce: %w", err)
	}
	return uint32(nonce), nil
}

// LogNonceRequestResponse appends one bootstrap-exchange audit row.
func (t *Tx) LogNonceRequestResponse(peer byte, requestNonce, lastInboundNonce uint32, ts time.Time) error {
	_, err := t.tx.Exec(
		`INSERT INTO nonce_request_response_log (timestamp, peer, request_nonce, last_inbound_nonce) VALUES (?, ?, ?, ?)`,
		unixNano(ts), peer, requestNonce, lastInboundNonce,
	)
	if err != nil {
		return fmt.Errorf("store: log nonce request/response: %w", err)
	}
	return nil
}

// Snapshot is the full current state pushed to a newly-joined UI
// listener.
type Snapshot struct {
	Away       domain.PowerStatus
	Measures   map[domain.MeasureKind]domain.SensorMeasure
	Statuses   map[domain.DeviceKind]domain.PowerStatus
	Thresholds []domain.ThresholdTemperature
	Pings      map[domain.DeviceKind]domain.DevicePing
}

// BuildSnapshot gathers every piece of state InitializeDisplay needs to
// push to one newly-connected listener.
func (t *Tx) BuildSnapshot() (Snapshot, error) {
	snap := Snapshot{
		Measures: make(map[domain.MeasureKind]domain.SensorMeasure),
		Statuses: make(map[domain.DeviceKind]domain.PowerStatus),
		Pings:    make(map[domain.DeviceKind]domain.DevicePing),
	}

	away, err := t.CurrentAwayStatus()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Away = away

	for _, mk := range []domain.MeasureKind{domain.Outdoor, domain.LivingRoom, domain.Bedroom} {
		m, err := t.LatestMeasure(mk, time.Time{})
		if err != nil {
			return Snapshot{}, err
		}
		if m != nil {
			snap.Measures[mk] = *m
		}
	}

	for _, dk := range []domain.DeviceKind{domain.Heating, domain.Cooling} {
		status, err := t.CurrentStatus(dk)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Statuses[dk] = status

		ping, err := t.LatestPing(dk)
		if err != nil {
			return Snapshot{}, err
		}
		if ping != nil {
			snap.Pings[dk] = *ping
		}
	}

	thresholds, err := t.AllThresholds()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Thresholds = thresholds

	return snap, nil
}
