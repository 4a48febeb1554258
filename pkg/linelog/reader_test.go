package linelog

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadToRecord_ValidFormat(t *testing.T) {
	input := "4242 \"app.exe\" 2025-01-07T12:34:56.789000000Z 1.5s 11: hello world\n"

	rec, eof := readToRecord(bufio.NewReader(strings.NewReader(input)))

	require.False(t, eof)
	require.NoError(t, rec.Error)
	require.Equal(t, uint32(4242), rec.PID)
	require.Equal(t, "app.exe", rec.Process)
	require.True(t, rec.Timestamp.Equal(time.Date(2025, 1, 7, 12, 34, 56, 789000000, time.UTC)))
	require.Equal(t, 1500*time.Millisecond, rec.Elapsed)
	require.Equal(t, "hello world", rec.Text)
}

func TestReadToRecord_EmptyInput(t *testing.T) {
	rec, eof := readToRecord(bufio.NewReader(strings.NewReader("")))

	require.True(t, eof)
	require.NoError(t, rec.Error)
}

func TestReadToRecord_Malformed(t *testing.T) {
	for name, input := range map[string]string{
		"pid":       "x \"a\" 2025-01-07T12:00:00.000000000Z 0s 1: a\n",
		"quote":     "1 a 2025-01-07T12:00:00.000000000Z 0s 1: a\n",
		"timestamp": "1 \"a\" yesterday 0s 1: a\n",
		"elapsed":   "1 \"a\" 2025-01-07T12:00:00.000000000Z soon 1: a\n",
		"length":    "1 \"a\" 2025-01-07T12:00:00.000000000Z 0s -1: a\n",
		"truncated": "1 \"a\" 2025-01-07T12:00:00.000000000Z 0s 10: abc",
		"separator": "1 \"a\" 2025-01-07T12:00:00.000000000Z 0s 1: ab\n",
	} {
		rec, eof := readToRecord(bufio.NewReader(strings.NewReader(input)))
		require.True(t, eof, name)
		require.Error(t, rec.Error, name)
	}
}

func TestReader_All(t *testing.T) {
	input := "1 \"a\" 2025-01-07T12:00:00.000000000Z 0s 3: foo\n" +
		"2 \"b\" 2025-01-07T12:00:01.000000000Z 1s 3: bar\n"

	records, err := NewReader(strings.NewReader(input)).All()

	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "foo", records[0].Text)
	require.Equal(t, uint32(2), records[1].PID)
	require.Equal(t, "bar", records[1].Text)
}

func TestReader_AllStopsAtMalformedRecord(t *testing.T) {
	input := "1 \"a\" 2025-01-07T12:00:00.000000000Z 0s 3: foo\n" +
		"garbage\n" +
		"2 \"b\" 2025-01-07T12:00:01.000000000Z 1s 3: bar\n"

	records, err := NewReader(strings.NewReader(input)).All()

	require.Error(t, err)
	require.Len(t, records, 1)
}
