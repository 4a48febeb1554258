package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteServiceUnit(t *testing.T) {
	var buf bytes.Buffer
	args := captureArgs("/var/log/dbwin log.txt", "", ":9100")

	require.NoError(t, writeServiceUnit(&buf, "dbwin", "/usr/local/bin/dbwinlog", args))

	unit := buf.String()
	require.Contains(t, unit, "User=dbwin\n")
	require.Contains(t, unit, `ExecStart=/usr/local/bin/dbwinlog capture --global --quiet --log-file "/var/log/dbwin log.txt" --metrics-addr :9100`+"\n")
	require.NotContains(t, unit, "{{")
}

func TestWriteServiceUnit_RequiresUser(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, writeServiceUnit(&buf, "", "/bin/dbwinlog", captureArgs("", "", "")))
	require.Error(t, writeServiceUnit(&buf, "a b", "/bin/dbwinlog", captureArgs("", "", "")))
}

func TestQuoteSystemdArg(t *testing.T) {
	require.Equal(t, "plain", quoteSystemdArg("plain"))
	require.Equal(t, `""`, quoteSystemdArg(""))
	require.Equal(t, `"a \"b\""`, quoteSystemdArg(`a "b"`))
}
