package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is the envelope version written by this package.
const Version uint8 = 1

// MaxFrameSize bounds a single frame payload. Control messages are tiny; a
// larger length prefix means the stream is corrupt.
const MaxFrameSize = 64 << 10

const lengthPrefixSize = 4

var (
	// ErrFrameTooLarge is fatal for the stream: the reader cannot resynchronise.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrUnknownTag marks a well-framed message with an unrecognised tag.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrMalformed marks a well-framed message whose envelope or body cannot be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrUnsupportedVersion marks an envelope from a newer protocol revision.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// Envelope is the versioned wrapper around every message body.
type Envelope struct {
	V    uint8              `msgpack:"v"`
	Tag  Tag                `msgpack:"t"`
	Body msgpack.RawMessage `msgpack:"b,omitempty"`
}

// DecodeError reports a frame that was read completely but could not be
// turned into a Message. The stream is still aligned, so the caller may drop
// the message and keep reading.
type DecodeError struct {
	Tag Tag
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode %q: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err leaves the stream usable.
func IsRecoverable(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Marshal encodes msg into an envelope payload without the length prefix.
func Marshal(msg Message) ([]byte, error) {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", msg.Tag(), err)
	}
	payload, err := msgpack.Marshal(&Envelope{V: Version, Tag: msg.Tag(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msg.Tag(), err)
	}
	return payload, nil
}

// Unmarshal decodes an envelope payload. Errors are always *DecodeError.
func Unmarshal(payload []byte) (Message, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.V > Version {
		return nil, &DecodeError{Tag: env.Tag, Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.V)}
	}

	msg, ok := newMessage(env.Tag)
	if !ok {
		return nil, &DecodeError{Tag: env.Tag, Err: ErrUnknownTag}
	}
	if len(env.Body) > 0 {
		if err := msgpack.Unmarshal(env.Body, msg); err != nil {
			return nil, &DecodeError{Tag: env.Tag, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
	}
	return deref(msg), nil
}

// WriteFrame writes msg as a 4-byte big-endian length followed by the payload.
func WriteFrame(w io.Writer, msg Message) error {
	payload, err := Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	_, err = w.Write(frame)
	return err
}

// ReadFrame reads exactly one frame and decodes it. io.EOF is returned
// unwrapped when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) (Message, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return Unmarshal(payload)
}
