// Package codec provides unit tests for LogCodec frame encoding and decoding.
package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tag     uint8
		payload []byte
	}{
		{name: "empty payload", tag: 1, payload: []byte{}},
		{name: "small payload", tag: 2, payload: []byte("hello")},
		{name: "binary payload", tag: 3, payload: []byte{0x00, 0xff, 0x10, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Encode(tt.tag, tt.payload)
			gotTag, gotPayload, err := Decode(bytes.NewReader(frame))
			require.NoError(t, err)
			require.Equal(t, tt.tag, gotTag)
			require.Equal(t, tt.payload, gotPayload)
		})
	}
}

func TestDecode_MultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(1, []byte("first")))
	buf.Write(Encode(2, []byte("second")))

	r := bytes.NewReader(buf.Bytes())

	tag, payload, err := Decode(r)
	require.NoError(t, err)
	require.Equal(t, uint8(1), tag)
	require.Equal(t, []byte("first"), payload)

	tag, payload, err = Decode(r)
	require.NoError(t, err)
	require.Equal(t, uint8(2), tag)
	require.Equal(t, []byte("second"), payload)

	_, _, err = Decode(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestDecode_CleanEOFAtBoundary(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestDecode_TruncatedHeader(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte{0x00, 0x01}))
	require.ErrorIs(t, err, kvserrors.ErrCorruptFrame)
}

func TestDecode_TruncatedBody(t *testing.T) {
	frame := Encode(1, []byte("hello world"))
	// Cut the frame short partway through the body.
	truncated := frame[:len(frame)-3]
	_, _, err := Decode(bytes.NewReader(truncated))
	require.ErrorIs(t, err, kvserrors.ErrCorruptFrame)
}

func TestDecode_CorruptCRC(t *testing.T) {
	frame := Encode(1, []byte("hello world"))
	// Flip every bit of the last payload byte without touching the length field.
	frame[len(frame)-1] ^= 0xff
	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, kvserrors.ErrCorruptFrame)
}

func TestDecode_ImplausibleLength(t *testing.T) {
	var buf bytes.Buffer
	enc.PutUint32(make([]byte, 4), 0) // sanity: enc is usable outside package funcs
	lenBuf := make([]byte, 4)
	enc.PutUint32(lenBuf, uint32(MaxFrameSize)+1)
	buf.Write(lenBuf)
	_, _, err := Decode(&buf)
	require.ErrorIs(t, err, kvserrors.ErrCorruptFrame)
}
