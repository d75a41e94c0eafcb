// Package wire implements the radio link's byte-stuffed, HMAC-authenticated
// frame format. It knows nothing about serial ports or queues —
// internal/radio owns the actual I/O loop and calls into this package to
// stuff/destuff bytes and to encode/parse the authenticated logical
// payload.
package wire

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2s"
)

// FrameStart is the single byte that unambiguously begins a frame on the
// wire. Byte stuffing guarantees it never occurs inside a stuffed payload.
const FrameStart byte = 0xFF

const (
	hmacSize  = 16 // BLAKE2s-128 digest
	nonceSize = 4

	// HeaderSize is the minimum destuffed logical-payload length for a
	// frame to be structurally valid: HMAC + NONCE + FROM + TO + COMMAND.
	HeaderSize = hmacSize + nonceSize + 1 + 1 + 1 // 23

	// MaxExtendedBytes is the largest COMMAND-specific payload this
	// controller will emit. Kept under 100 bytes so that, even fully
	// byte-stuffed (worst case 2x), the resulting frame still fits under
	// the wire-level 255-byte LEN field.
	MaxExtendedBytes = 99
)

// ErrDecode marks a structural framing failure: bad stuffing, a short
// body, or a payload below HeaderSize. The frame is dropped.
var ErrDecode = errors.New("wire: decode error")

// ErrAuth marks a structurally valid frame whose HMAC does not match. The
// frame is dropped without touching any stored state.
var ErrAuth = errors.New("wire: authentication failed")

// Frame is the logical, already-destuffed content of one message —
// everything except the authenticating HMAC, which is computed from the
// rest of the fields on encode and verified on parse.
type Frame struct {
	Nonce    uint32
	From     byte
	To       byte
	Command  byte
	Extended []byte
}

// keyedDigest is this protocol's "HMAC-BLAKE2s-128": a BLAKE2s hash keyed
// with the shared secret, truncated to a 128-bit digest. This mirrors the
// original implementation, which keys blake2s directly rather than
// wrapping a hash.Hash in the generic HMAC construction.
func keyedDigest(secret, data []byte) []byte {
	h, err := blake2s.New128(secret)
	if err != nil {
		// Only possible if the key is longer than blake2s allows; the
		// shared secret is a fixed, validated configuration value.
		panic(fmt.Sprintf("wire: invalid HMAC key: %v", err))
	}
	h.Write(data)
	return h.Sum(nil)
}

// Encode produces the destuffed logical payload for f: the keyed digest
// over NONCE..end, prepended to NONCE, FROM, TO, COMMAND and the extended
// bytes. Extended is silently truncated to MaxExtendedBytes: lossy
// truncation is preferred over fragmenting, since no command exceeds this
// budget.
func Encode(secret []byte, f Frame) []byte {
	ext := f.Extended
	if len(ext) > MaxExtendedBytes {
		ext = ext[:MaxExtendedBytes]
	}

	body := make([]byte, nonceSize+3, nonceSize+3+len(ext))
	binary.LittleEndian.PutUint32(body[0:nonceSize], f.Nonce)
	body[nonceSize] = f.From
	body[nonceSize+1] = f.To
	body[nonceSize+2] = f.Command
	body = append(body, ext...)

	mac := keyedDigest(secret, body)
	logical := make([]byte, 0, len(mac)+len(body))
	logical = append(logical, mac...)
	logical = append(logical, body...)
	return logical
}

// Parse validates and decodes a destuffed logical payload. It returns
// ErrDecode if the payload is shorter than HeaderSize, ErrAuth if the
// digest does not match.
func Parse(secret []byte, logical []byte) (Frame, error) {
	if len(logical) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: payload length %d < %d", ErrDecode, len(logical), HeaderSize)
	}

	got := logical[:hmacSize]
	body := logical[hmacSize:]
	want := keyedDigest(secret, body)
	if !hmac.Equal(got, want) {
		return Frame{}, fmt.Errorf("%w", ErrAuth)
	}

	f := Frame{
		Nonce:   binary.LittleEndian.Uint32(body[0:nonceSize]),
		From:    body[nonceSize],
		To:      body[nonceSize+1],
		Command: body[nonceSize+2],
	}
	if rest := body[nonceSize+3:]; len(rest) > 0 {
		f.Extended = append([]byte(nil), rest...)
	}
	return f, nil
}

// Stuff byte-stuffs logical payload data for transmission: any byte with
// the high bit set is expanded into two bytes so that FrameStart (0xFF)
// can never occur inside the stuffed region.
func Stuff(logical []byte) []byte {
	out := make([]byte, 0, len(logical))
	for _, b := range logical {
		if b&0x80 != 0 {
			out = append(out, (b>>4)|0x80, b&0x0F)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// Unstuff reverses Stuff. A stuffed byte (high bit set) whose successor
// is missing is a decode failure: the frame is truncated mid-expansion.
func Unstuff(stuffed []byte) ([]byte, error) {
	out := make([]byte, 0, len(stuffed))
	for i := 0; i < len(stuffed); i++ {
		b := stuffed[i]
		if b&0x80 != 0 {
			if i+1 >= len(stuffed) {
				return nil, fmt.Errorf("%w: trailing stuffed byte with no successor", ErrDecode)
			}
			lo := stuffed[i+1]
			out = append(out, ((b&0x0F)<<4)|lo)
			i++
		} else {
			out = append(out, b)
		}
	}
	return out, nil
}

// EncodeFrame produces the complete wire bytes for f, ready to write to
// the serial port: FrameStart, a LEN byte holding the stuffed payload
// length, then the stuffed payload itself.
func EncodeFrame(secret []byte, f Frame) []byte {
	stuffed := Stuff(Encode(secret, f))
	out := make([]byte, 0, 2+len(stuffed))
	out = append(out, FrameStart, byte(len(stuffed)))
	out = append(out, stuffed...)
	return out
}
