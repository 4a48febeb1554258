package linelog

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRecord(t *testing.T) {
	rec := Record{
		PID:       4242,
		Process:   "app.exe",
		Timestamp: time.Date(2025, 1, 7, 12, 34, 56, 789000000, time.UTC),
		Elapsed:   1500 * time.Millisecond,
		Text:      "hello world",
	}

	expected := "4242 \"app.exe\" 2025-01-07T12:34:56.789000000Z 1.5s 11: hello world\n"
	require.Equal(t, expected, string(FormatRecord(rec)))
}

func TestFormatRecord_EmptyProcessAndText(t *testing.T) {
	rec := Record{
		PID:       17,
		Timestamp: time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC),
	}

	expected := "17 \"\" 2025-01-07T12:00:00.000000000Z 0s 0: \n"
	require.Equal(t, expected, string(FormatRecord(rec)))
}

func TestFormatRecord_ConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	rec := Record{
		PID:       1,
		Process:   "a",
		Timestamp: time.Date(2025, 1, 7, 13, 0, 0, 0, zone),
	}

	require.Contains(t, string(FormatRecord(rec)), " 2025-01-07T12:00:00.000000000Z ")
}

func TestReadToRecord_AwkwardProcessNames(t *testing.T) {
	for _, name := range []string{"my app.exe", `quote"d`, `back\slash`, "<flush>", "tab\there", "ünïcode"} {
		rec := Record{
			PID:       9,
			Process:   name,
			Timestamp: time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC),
			Text:      `9 "fake" 2025-01-07T12:00:00.000000000Z 0s 3: xyz`,
		}

		parsed, eof := readToRecord(bufio.NewReader(bytes.NewReader(FormatRecord(rec))))
		require.False(t, eof, name)
		require.NoError(t, parsed.Error, name)
		require.Equal(t, rec.Process, parsed.Process, name)
		require.Equal(t, rec.Text, parsed.Text, name)
	}
}

func TestReadToRecord_BinaryText(t *testing.T) {
	rec := Record{
		PID:       3,
		Process:   "bin",
		Timestamp: time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC),
		Text:      string([]byte{0x00, 0x01, 0xFF, '\n'}),
	}

	parsed, eof := readToRecord(bufio.NewReader(bytes.NewReader(FormatRecord(rec))))
	require.False(t, eof)
	require.NoError(t, parsed.Error)
	require.Equal(t, rec.Text, parsed.Text)
}
