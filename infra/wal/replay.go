package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ReplayHandler consumes one journaled record. Returning an error stops
// the replay.
type ReplayHandler func(*Record) error

// Replay walks every finished segment in rotation order, then the
// unrotated current segment, delivering records with seq > afterSeq.
// It returns the newest sequence seen.
func Replay(dir string, afterSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	segments, err := filepath.Glob(filepath.Join(dir, "[0-9]*.wal"))
	if err != nil {
		return 0, err
	}
	sort.Strings(segments)
	segments = append(segments, filepath.Join(dir, currentName))

	lastSeq = afterSeq
	for _, path := range segments {
		last, err := replaySegment(path, afterSeq, fn)
		if err != nil {
			return lastSeq, fmt.Errorf("wal: replay %s: %w", filepath.Base(path), err)
		}
		if last > lastSeq {
			lastSeq = last
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, afterSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				// torn tail; Open truncates it before the next append
				return lastSeq, nil
			}
			return lastSeq, err
		}
		size := binary.LittleEndian.Uint32(header[:4])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return lastSeq, nil
			}
			return lastSeq, err
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return lastSeq, nil
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			return lastSeq, err
		}
		if rec.Seq > lastSeq {
			lastSeq = rec.Seq
		}
		if rec.Seq <= afterSeq {
			continue
		}
		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}
