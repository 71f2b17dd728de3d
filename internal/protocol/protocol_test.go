package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequest_RoundTrip(t *testing.T) {
	tests := []*Request{
		{Cmd: CmdGet, Argument: []string{"key"}},
		{Cmd: CmdSet, Argument: []string{"key", "value"}},
		{Cmd: CmdKill, Argument: nil},
	}

	for _, req := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, req))

		got, err := ReadRequest(&buf)
		require.NoError(t, err)
		require.Equal(t, req.Cmd, got.Cmd)
		require.Equal(t, len(req.Argument), len(got.Argument))
		for i := range req.Argument {
			require.Equal(t, req.Argument[i], got.Argument[i])
		}
	}
}

func TestReply_RoundTrip(t *testing.T) {
	tests := []*Reply{
		{Status: Success, Found: true, Result: "value"},
		{Status: Success, Found: false, Result: ""},
		{Status: KeyNotFound, Result: ""},
		{Status: InvalidArguments, Result: "expected 2 arguments"},
	}

	for _, rep := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteReply(&buf, rep))

		got, err := ReadReply(&buf)
		require.NoError(t, err)
		require.Equal(t, rep.Status, got.Status)
		require.Equal(t, rep.Found, got.Found)
		require.Equal(t, rep.Result, got.Result)
	}
}

func TestRequiredArgs(t *testing.T) {
	count, known := RequiredArgs(CmdSet)
	require.True(t, known)
	require.Equal(t, 2, count)

	count, known = RequiredArgs(CmdGet)
	require.True(t, known)
	require.Equal(t, 1, count)

	count, known = RequiredArgs(CmdKill)
	require.True(t, known)
	require.Equal(t, 0, count)

	_, known = RequiredArgs("BOGUS")
	require.False(t, known)
}
