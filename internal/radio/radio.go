// Package radio implements the radio link worker: the only goroutine
// that ever touches the serial port. It decodes inbound frames into
// commands handed to the executor, and drains the outbound queue onto
// the wire.
package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"
	"time"

	"github.com/climateguard/climateguard/internal/bus"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
	"github.com/climateguard/climateguard/internal/wire"
)

const (
	// startTimeout bounds how long the worker waits for the next
	// FrameStart byte before looping back to check the stop signal.
	startTimeout = 1 * time.Second
	// bodyTimeout bounds the LEN byte and the frame body once a
	// FrameStart byte has been seen.
	bodyTimeout = 5 * time.Second
	// popTimeout bounds how long the worker waits for an outbound frame
	// before looping back to read again.
	popTimeout = 3 * time.Second

	cmdNonceRequest byte = 0x00
	cmdData         byte = 0x01
)

// Port is the serial connection the worker reads frames from and writes
// outbound frames to. A *os.File opened on the radio adapter's tty and
// configured via internal/serial satisfies this.
type Port interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Worker is the radio link worker: it owns exclusive access to Port,
// decoding inbound frames into commands and writing outbound frames
// popped from Outbound.
type Worker struct {
	Port      Port
	Secret    []byte
	MyAddress byte
	Store     *store.Store
	Commands  *bus.CommandQueue
	Outbound  *bus.OutboundQueue
	Stop      *bus.StopSignal
}

// Run alternates reading one inbound frame and writing one outbound
// frame until Stop is set. Both halves are non-blocking past their
// respective timeouts, so on an idle link the stop signal is checked
// once every startTimeout+popTimeout (four seconds).
func (w *Worker) Run() {
	for !w.Stop.IsSet() {
		w.readOne()
		w.writeOne()
	}
}

func (w *Worker) readOne() {
	frame, ok := w.readFrame()
	if !ok {
		return
	}
	w.dispatch(frame)
}

func (w *Worker) writeOne() {
	frame, ok := w.Outbound.Pop(popTimeout)
	if !ok {
		return
	}
	if _, err := w.Port.Write(wire.EncodeFrame(w.Secret, frame)); err != nil {
		log.Printf("radio: write: %v", err)
	}
}

// readFrame waits up to startTimeout for a FrameStart byte, then up to
// bodyTimeout for the LEN byte and the stuffed body. It returns
// (Frame{}, false) on timeout, resync (a non-FrameStart byte), or any
// decode/auth failure; all of those are logged except the plain
// startTimeout case, which is the normal idle-link poll.
func (w *Worker) readFrame() (wire.Frame, bool) {
	b, timedOut, err := w.readByte(startTimeout)
	if err != nil {
		log.Printf("radio: read: %v", err)
		return wire.Frame{}, false
	}
	if timedOut {
		return wire.Frame{}, false
	}
	if b != wire.FrameStart {
		log.Printf("radio: resyncing, dropped stray byte %#x", b)
		return wire.Frame{}, false
	}

	lenByte, timedOut, err := w.readByte(bodyTimeout)
	if err != nil {
		log.Printf("radio: read: %v", err)
		return wire.Frame{}, false
	}
	if timedOut {
		log.Printf("radio: timed out waiting for LEN byte")
		return wire.Frame{}, false
	}

	stuffed := make([]byte, lenByte)
	if err := w.readFull(stuffed, bodyTimeout); err != nil {
		log.Printf("radio: timed out or failed reading frame body: %v", err)
		return wire.Frame{}, false
	}

	logical, err := wire.Unstuff(stuffed)
	if err != nil {
		log.Printf("radio: %v", err)
		return wire.Frame{}, false
	}
	frame, err := wire.Parse(w.Secret, logical)
	if err != nil {
		log.Printf("radio: %v", err)
		return wire.Frame{}, false
	}
	return frame, true
}

func (w *Worker) readByte(timeout time.Duration) (byte, bool, error) {
	buf := make([]byte, 1)
	if err := w.readFull(buf, timeout); err != nil {
		if isTimeout(err) {
			return 0, true, nil
		}
		return 0, false, err
	}
	return buf[0], false, nil
}

func (w *Worker) readFull(buf []byte, timeout time.Duration) error {
	if err := w.Port.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(w.Port, buf)
	return err
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}

// dispatch routes a structurally valid, authenticated frame: addressing
// mismatch and nonce-request bypass the replay check; everything else
// must carry a strictly increasing nonce.
func (w *Worker) dispatch(f wire.Frame) {
	if f.To != w.MyAddress {
		log.Printf("radio: dropping frame for %#x, not addressed to us (%#x)", f.To, w.MyAddress)
		return
	}

	if f.Command == cmdNonceRequest {
		w.handleNonceRequest(f)
		return
	}

	valid, err := w.checkAndUpdateNonce(f)
	if err != nil {
		log.Printf("radio: nonce check for %#x: %v", f.From, err)
		return
	}
	if !valid {
		log.Printf("radio: dropping stale/replayed frame from %#x (nonce %d)", f.From, f.Nonce)
		return
	}

	switch {
	case f.Command == cmdData && isDeviceAddress(f.From):
		w.handlePing(f)
	case f.Command == cmdData && domain.MeasureKind(f.From).IsIndoor():
		w.handleIndoorMeasure(f)
	case f.Command == cmdData && f.From == byte(domain.Outdoor):
		w.handleOutdoorMeasure(f)
	default:
		log.Printf("radio: unrecognized command %#x from %#x", f.Command, f.From)
	}
}

func isDeviceAddress(from byte) bool {
	return from == byte(domain.Heating) || from == byte(domain.Cooling)
}

// checkAndUpdateNonce opens its own short transaction to read and, if
// the frame is fresh, advance the inbound nonce for f.From. Keeping this
// outside the executor's per-command transaction lets the worker reject
// stale frames without round-tripping through the command queue.
func (w *Worker) checkAndUpdateNonce(f wire.Frame) (bool, error) {
	valid := false
	err := store.WithTx(context.Background(), w.Store, func(tx *store.Tx) error {
		last, err := tx.InboundNonce(f.From)
		if err != nil {
			return err
		}
		if last >= f.Nonce {
			return nil
		}
		valid = true
		return tx.SetInboundNonce(f.From, f.Nonce)
	})
	return valid, err
}

// handleNonceRequest answers a bootstrap/resync request from a peer. The
// response itself is composed and enqueued from inside the executor's
// transaction, via Reply, once RespondNonceRequestCommand has looked up
// and logged the peer's last accepted inbound nonce.
func (w *Worker) handleNonceRequest(f wire.Frame) {
	w.Commands.Enqueue(bus.RespondNonceRequestCommand{
		Peer:         f.From,
		RequestNonce: f.Nonce,
		Reply: func(lastInboundNonce uint32) {
			w.Outbound.Enqueue(wire.Frame{
				Nonce:   lastInboundNonce,
				From:    w.MyAddress,
				To:      f.From,
				Command: cmdNonceRequest,
			})
		},
	})
}

func (w *Worker) handlePing(f wire.Frame) {
	if len(f.Extended) != 1 {
		log.Printf("radio: ping from %#x: extended length %d, want 1", f.From, len(f.Extended))
		return
	}
	kind := domain.DeviceKind(f.From)
	status := domain.Off
	if f.Extended[0] != 0 {
		status = domain.On
	}
	now := time.Now().UTC()
	w.Commands.Enqueue(bus.RecordDeviceStatusCommand{Status: domain.DeviceStatus{Timestamp: now, Kind: kind, Status: status}})
	w.Commands.Enqueue(bus.SavePingCommand{Ping: domain.DevicePing{Timestamp: now, Kind: kind}})
}

func (w *Worker) handleIndoorMeasure(f wire.Frame) {
	if len(f.Extended) != 12 {
		log.Printf("radio: indoor measure from %#x: extended length %d, want 12", f.From, len(f.Extended))
		return
	}
	temperature := readFloat32(f.Extended[0:4])
	humidity := readFloat32(f.Extended[4:8])
	voltage := readFloat32(f.Extended[8:12])
	w.Commands.Enqueue(bus.SaveMeasureCommand{Measure: domain.SensorMeasure{
		Timestamp:   time.Now().UTC(),
		Kind:        domain.MeasureKind(f.From),
		Temperature: temperature,
		Humidity:    &humidity,
		Voltage:     &voltage,
	}})
}

func (w *Worker) handleOutdoorMeasure(f wire.Frame) {
	if len(f.Extended) != 8 {
		log.Printf("radio: outdoor measure: extended length %d, want 8", len(f.Extended))
		return
	}
	temperature := readFloat32(f.Extended[0:4])
	voltage := readFloat32(f.Extended[4:8])
	w.Commands.Enqueue(bus.SaveMeasureCommand{Measure: domain.SensorMeasure{
		Timestamp:   time.Now().UTC(),
		Kind:        domain.Outdoor,
		Temperature: temperature,
		Voltage:     &voltage,
	}})
}

func readFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}
