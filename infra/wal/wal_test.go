package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(RecordPlace, 1, []byte("first"))))
	require.NoError(t, w.Append(NewRecord(RecordCancel, 2, []byte("second"))))
	require.NoError(t, w.Close())

	var got []*Record
	last, err := Replay(dir, 0, func(r *Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Len(t, got, 2)
	require.Equal(t, RecordPlace, got[0].Type)
	require.Equal(t, []byte("first"), got[0].Data)
	require.Equal(t, RecordCancel, got[1].Type)
	require.Equal(t, uint64(2), got[1].Seq)
}

func TestReplaySkipsUpToAfterSeq(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, w.Append(NewRecord(RecordPlace, seq, nil)))
	}
	require.NoError(t, w.Close())

	var seqs []uint64
	last, err := Replay(dir, 3, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)
	require.Equal(t, []uint64{4, 5}, seqs)
}

func TestRotationKeepsAllRecords(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 64, SegmentDuration: time.Hour})
	require.NoError(t, err)
	const n = 20
	for seq := uint64(1); seq <= n; seq++ {
		require.NoError(t, w.Append(NewRecord(RecordPlace, seq, []byte("payload-payload"))))
	}
	require.NoError(t, w.Close())

	entries, err := LoadAllIndex(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "rotation must index finished segments")

	var count int
	var prev uint64
	_, err = Replay(dir, 0, func(r *Record) error {
		require.Greater(t, r.Seq, prev, "replay must be ordered")
		prev = r.Seq
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestTornTailTruncatedOnReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(RecordPlace, 1, []byte("keep"))))
	require.NoError(t, w.Append(NewRecord(RecordPlace, 2, []byte("torn"))))
	require.NoError(t, w.Close())

	// chop bytes off the second frame, as a crash mid-write would
	path := filepath.Join(dir, "current.wal")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	w, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	require.Equal(t, uint64(1), w.LastSeq())
	require.NoError(t, w.Append(NewRecord(RecordPlace, 2, []byte("rewritten"))))
	require.NoError(t, w.Close())

	var data []string
	_, err = Replay(dir, 0, func(r *Record) error {
		data = append(data, string(r.Data))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"keep", "rewritten"}, data)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(RecordPlace, 7, nil)))
	require.NoError(t, w.Close())

	w, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, uint64(7), w.LastSeq())
}
