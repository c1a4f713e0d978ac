package joblog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sris945/agentrunner/internal/joblog"
	"github.com/stretchr/testify/require"
)

func TestSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink := joblog.New(dir)
	t.Cleanup(func() { _ = sink.Close() })

	require.Equal(t, filepath.Join(dir, joblog.FileName), sink.Path())
	_, err := os.Stat(dir)
	require.ErrorIs(t, err, os.ErrNotExist, "nothing is created before first use")

	require.NoError(t, sink.Reset("first"))
	_, err = sink.Write([]byte(`{"type":"progress","phase":1,"message":"scanning"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, sink.WriteError([]byte("warn one\nwarn two")))

	onDisk, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	require.Equal(t, sink.String(), string(onDisk))
	require.Contains(t, sink.String(), "=== invocation first started")
	require.Contains(t, sink.String(), `{"type":"progress","phase":1,"message":"scanning"}`+"\n")
	require.Contains(t, sink.String(), "[stderr] warn one\n[stderr] warn two\n")

	t.Run("reset clears", func(t *testing.T) {
		require.NoError(t, sink.Reset("second"))
		_, err := sink.Write([]byte("again\n"))
		require.NoError(t, err)

		onDisk, err := os.ReadFile(sink.Path())
		require.NoError(t, err)
		require.NotContains(t, string(onDisk), "first")
		require.Contains(t, string(onDisk), "=== invocation second started")
		require.True(t, strings.HasSuffix(string(onDisk), "again\n"))
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, sink.Close())
		_, err := sink.Write([]byte("late"))
		require.ErrorIs(t, err, joblog.ErrClosed)
		require.ErrorIs(t, sink.Reset("third"), joblog.ErrClosed)
	})
}

func TestSink_Memory(t *testing.T) {
	t.Parallel()
	sink := joblog.New("")
	require.Empty(t, sink.Path())
	require.NoError(t, sink.Reset("mem"))
	_, err := sink.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(sink.String(), "hello\n"))
	require.NoError(t, sink.Reset("second"))
	require.NotContains(t, sink.String(), "hello")
	require.NoError(t, sink.Close())
}
