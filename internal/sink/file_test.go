package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dbwinlog/pkg/linelog"
)

func TestFile_AppendsLineLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Accept(sampleLines()[:1]))
	require.NoError(t, f.Close())

	// A second run appends.
	f, err = OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Accept(sampleLines()[1:]))
	require.NoError(t, f.Close())

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()

	records, err := linelog.NewReader(in).All()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, l := range sampleLines() {
		require.Equal(t, l, FromRecord(records[i]))
	}
}

func TestOpenFile_MissingDirectory(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing", "capture.log"))
	require.Error(t, err)
}
