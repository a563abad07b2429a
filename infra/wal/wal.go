// Package wal journals admitted commands so the engine can rebuild its
// books after a restart. Segments rotate by size or age; every record is
// framed with a length and a crc32, and a torn tail left by a crash is
// truncated on the next open.
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
	"sync"
	"time"
)

// frame: [len u32][crc u32][payload]
const frameHeaderSize = 8

const currentName = "current.wal"

type Config struct {
	Dir             string
	SegmentSize     uint64
	SegmentDuration time.Duration
}

type WAL struct {
	mu sync.Mutex

	cfg             Config
	file            *os.File
	writer          *bufio.Writer
	segmentID       int
	segmentStartSeq uint64
	lastSeq         uint64
	bytesWritten    uint64
	lastRotationAt  time.Time
}

func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = 8 << 20
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	var segID int
	var seq uint64
	if last, err := LoadLastIndex(cfg.Dir); err != nil {
		return nil, err
	} else if last != nil {
		fmt.Sscanf(filepath.Base(last.File), "%d.wal", &segID)
		seq = last.LastSeq
	}

	path := filepath.Join(cfg.Dir, currentName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		cfg:             cfg,
		file:            f,
		segmentID:       segID,
		segmentStartSeq: seq + 1,
		lastSeq:         seq,
		lastRotationAt:  time.Now(),
	}
	if err := w.recoverCurrent(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	w.writer = bufio.NewWriterSize(f, 1<<20)
	return w, nil
}

// Append journals one record. Safe for concurrent use: the instrument
// pipelines share a single WAL.
func (w *WAL) Append(r *Record) error {
	payload := encodeRecord(r)
	size := uint64(frameHeaderSize + len(payload))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shouldRotate(size) {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if err := writeFrame(w.writer, payload); err != nil {
		return err
	}
	w.lastSeq = r.Seq
	w.bytesWritten += size
	return nil
}

// Dir returns the journal directory.
func (w *WAL) Dir() string {
	return w.cfg.Dir
}

// LastSeq reports the newest journaled sequence.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Sync flushes buffered frames to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *WAL) shouldRotate(next uint64) bool {
	if w.bytesWritten == 0 {
		return false
	}
	return w.bytesWritten+next >= w.cfg.SegmentSize ||
		time.Since(w.lastRotationAt) >= w.cfg.SegmentDuration
}

func (w *WAL) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	w.segmentID++
	name := fmt.Sprintf("%06d.wal", w.segmentID)
	oldPath := filepath.Join(w.cfg.Dir, currentName)
	if err := os.Rename(oldPath, filepath.Join(w.cfg.Dir, name)); err != nil {
		return err
	}
	if err := AppendIndexEntry(w.cfg.Dir, IndexEntry{
		File:      name,
		FirstSeq:  w.segmentStartSeq,
		LastSeq:   w.lastSeq,
		Timestamp: time.Now().Format(time.RFC3339),
	}); err != nil {
		return err
	}

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	w.segmentStartSeq = w.lastSeq + 1
	w.bytesWritten = 0
	w.lastRotationAt = time.Now()
	return nil
}

// recoverCurrent walks current.wal and truncates a torn tail so the next
// append lands on a clean frame boundary.
func (w *WAL) recoverCurrent() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var (
		valid  int64
		header [frameHeaderSize]byte
	)
	r := bufio.NewReader(w.file)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncate(valid)
			}
			return err
		}
		size := binary.LittleEndian.Uint32(header[:4])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncate(valid)
			}
			return err
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return w.truncate(valid)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return w.truncate(valid)
		}
		w.lastSeq = rec.Seq
		valid += int64(frameHeaderSize) + int64(size)
	}
	w.bytesWritten = uint64(valid)
	return nil
}

func (w *WAL) truncate(valid int64) error {
	if err := w.file.Truncate(valid); err != nil {
		return err
	}
	w.bytesWritten = uint64(valid)
	return nil
}

func writeFrame(wr io.Writer, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := wr.Write(header[:]); err != nil {
		return err
	}
	_, err := wr.Write(payload)
	return err
}
