package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRequestAndCommitGap(t *testing.T) {
	h := New("", 0, nil)
	assert.Equal(t, 0, h.CommitGap())

	h.AddRequest(ReqID{CallerID: 1, SessionID: "s", Seq: 1}, "alice", []byte("req1"))
	h.AddRequest(ReqID{CallerID: 1, SessionID: "s", Seq: 2}, "alice", []byte("req2"))
	assert.Equal(t, 2, h.CommitGap())

	h.EmitSignature()
	assert.Equal(t, 0, h.CommitGap())

	h.AddRequest(ReqID{CallerID: 1, SessionID: "s", Seq: 3}, "alice", []byte("req3"))
	assert.Equal(t, 1, h.CommitGap())
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.gob")

	h := New(path, 0, nil)
	h.AddRequest(ReqID{CallerID: 1, SessionID: "s", Seq: 1}, "alice", []byte("req1"))
	h.AddRequest(ReqID{CallerID: 2, SessionID: "s", Seq: 1}, "bob", []byte("req2"))
	require.NoError(t, h.Flush())

	reloaded := New(path, 0, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.CommitGap())
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	h := New(filepath.Join(dir, "does-not-exist.gob"), 0, nil)
	require.NoError(t, h.Load())
	assert.Equal(t, 0, h.CommitGap())
}

func TestStopFlushesBufferedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.gob")

	h := New(path, 0, nil)
	h.AddRequest(ReqID{CallerID: 1, SessionID: "s", Seq: 1}, "alice", []byte("req1"))
	require.NoError(t, h.Stop())

	reloaded := New(path, 0, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 1, reloaded.CommitGap())
}
