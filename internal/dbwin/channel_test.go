package dbwin

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCodec(t *testing.T) {
	buf := make([]byte, BufferSize)

	encodeRecord(buf, 1234, []byte("hello\n"))
	pid, data := decodeRecord(buf)
	assert.Equal(t, uint32(1234), pid)
	assert.Equal(t, []byte("hello\n"), data)

	// The decoded bytes do not alias the shared buffer.
	buf[4] = 'j'
	assert.Equal(t, []byte("hello\n"), data)
}

func TestRecordCodec_StopsAtNUL(t *testing.T) {
	buf := make([]byte, BufferSize)

	encodeRecord(buf, 1, []byte("abc\x00def"))
	_, data := decodeRecord(buf)
	assert.Equal(t, []byte("abc"), data)
}

func TestRecordCodec_TruncatesLongMessages(t *testing.T) {
	buf := make([]byte, BufferSize)
	msg := bytes.Repeat([]byte("x"), BufferSize*2)

	encodeRecord(buf, 7, msg)
	_, data := decodeRecord(buf)
	assert.Len(t, data, MaxMessageSize)
	assert.Equal(t, byte(0), buf[BufferSize-1])
}

func TestRecordCodec_ShortBuffer(t *testing.T) {
	pid, data := decodeRecord([]byte{1, 2})
	assert.Zero(t, pid)
	assert.Nil(t, data)
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeLocal, "local": ScopeLocal, "global": ScopeGlobal} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}

	_, err := ParseScope("session")
	assert.EqualError(t, err, `invalid scope "session": want local or global`)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "DBWIN_BUFFER", objectName(ScopeLocal, bufferName))
	assert.Equal(t, `Global\DBWIN_DATA_READY`, objectName(ScopeGlobal, dataReadyName))
}

func TestChannelDir(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, ChannelDir(ScopeGlobal, dir))

	local := ChannelDir(ScopeLocal, "")
	global := ChannelDir(ScopeGlobal, "")
	assert.NotEqual(t, local, global)
	assert.True(t, filepath.IsAbs(local))
	assert.Equal(t, "dbwin", filepath.Base(global))
}
