package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// rawFrame builds a frame around an arbitrary envelope, bypassing Message.
func rawFrame(t *testing.T, env any) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(env)
	require.NoError(t, err)
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// TestFrameCarriesEveryTag writes one of each message and reads them back in order.
func TestFrameCarriesEveryTag(t *testing.T) {
	msgs := []Message{
		Register{InstanceID: "a1"},
		Log{InstanceID: "a1", Event: EventWin, Detail: "24 credits: [7 10 7]"},
		JackpotWon{Value: 30517},
		RequestJackpot{},
		Disconnect{},
		Heartbeat{},
		JackpotUpdate{Value: 30000},
		JackpotReset{Value: 30517},
		LogRelay{InstanceID: "b2", Text: "wager"},
		Registered{InstanceID: "a1"},
		Error{Code: CodeDuplicateInstance, Text: "a1 already connected"},
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, WriteFrame(&buf, m))
	}

	for _, want := range msgs {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

// TestDelimiterInPayload verifies payload text containing the legacy
// separator survives intact.
func TestDelimiterInPayload(t *testing.T) {
	var buf bytes.Buffer
	in := Log{InstanceID: "x", Event: EventCredit, Detail: "a:b:c\nd"}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// TestFragmentedStream feeds frames one byte at a time.
func TestFragmentedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Log{InstanceID: "x", Event: EventWager}))
	require.NoError(t, WriteFrame(&buf, JackpotUpdate{Value: 30001}))

	r := iotest.OneByteReader(&buf)

	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, Log{InstanceID: "x", Event: EventWager}, first)

	second, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, JackpotUpdate{Value: 30001}, second)
}

// TestUnknownTagIsRecoverable verifies an unknown tag is reported without
// losing the next frame.
func TestUnknownTagIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(rawFrame(t, map[string]any{"v": 1, "t": "teleport", "b": map[string]any{"to": "mars"}}))
	require.NoError(t, WriteFrame(&buf, Heartbeat{}))

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.True(t, IsRecoverable(err))

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, Tag("teleport"), de.Tag)

	next, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, next)
}

// TestMalformedBodyIsRecoverable verifies a body of the wrong shape is dropped.
func TestMalformedBodyIsRecoverable(t *testing.T) {
	body, err := msgpack.Marshal("not a struct")
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(rawFrame(t, &Envelope{V: Version, Tag: TagLog, Body: body}))

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, IsRecoverable(err))
}

// TestNewerVersionIsRecoverable verifies envelopes from a later revision are dropped.
func TestNewerVersionIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(rawFrame(t, map[string]any{"v": Version + 1, "t": "heartbeat"}))

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.True(t, IsRecoverable(err))
}

// TestAddedFieldsAreIgnored verifies a newer sender's extra fields decode cleanly.
func TestAddedFieldsAreIgnored(t *testing.T) {
	body, err := msgpack.Marshal(map[string]any{
		"instance_id": "a1",
		"event":       EventWager,
		"stake":       5,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(rawFrame(t, &Envelope{V: Version, Tag: TagLog, Body: body}))

	msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, Log{InstanceID: "a1", Event: EventWager}, msg)
}

// TestOversizedFrameIsFatal verifies a corrupt length prefix is not recoverable.
func TestOversizedFrameIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.False(t, IsRecoverable(err))
}

// TestTruncatedFrame verifies a stream cut mid-frame reports an unexpected EOF.
func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Register{InstanceID: "abc"}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, err := ReadFrame(truncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, IsRecoverable(err))
}

// TestMessageString verifies the colon rendering used in logs.
func TestMessageString(t *testing.T) {
	assert.Equal(t, "jackpot_reset:305.17", JackpotReset{Value: 30517}.String())
	assert.Equal(t, "log:a1:wager", Log{InstanceID: "a1", Event: EventWager}.String())
	assert.Equal(t, "log:a1:win:24", Log{InstanceID: "a1", Event: EventWin, Detail: "24"}.String())
	assert.Equal(t, "heartbeat", Heartbeat{}.String())
	assert.Equal(t, "win 24", Log{Event: EventWin, Detail: "24"}.Text())
}
