package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingMessage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, pingMessage{Type: "ping", Value: 42}))

	var out pingMessage
	require.NoError(t, ReadMessage(&buf, &out))
	assert.Equal(t, "ping", out.Type)
	assert.Equal(t, 42, out.Value)
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, lengthPrefixSize)
	for i := range header {
		header[i] = 0xff
	}
	buf.Write(header)

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameShortBodyErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"type":"x"}`)))
	truncated := buf.Bytes()[:len(buf.Bytes())-2]

	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.Error(t, err)
}
