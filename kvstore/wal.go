package kvstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// wal is the local write-ahead log that backs the durability boundary
// spec.md §4.5 requires to be well-defined: a batch is durable once
// its entry has been written and fsynced here, before the memtable is
// updated. Rotated (truncated and replaced by an empty file) every
// time the memtable it protects is flushed to a segment.
type wal struct {
	path string
	f    *os.File
}

// openWAL opens (creating if necessary) the log file at path.
func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open wal %q: %w", path, err)
	}
	return &wal{path: path, f: f}, nil
}

// append writes every op in the batch as a single log frame and, when
// awaitDurable is true, fsyncs before returning.
func (w *wal) append(ops []Op, awaitDurable bool) error {
	buf := encodeWALFrame(ops)
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("kvstore: wal write: %w", err)
	}
	if awaitDurable {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("kvstore: wal fsync: %w", err)
		}
	}
	return nil
}

func encodeWALFrame(ops []Op) []byte {
	var total int
	for _, op := range ops {
		total += 1 + 4 + len(op.Key) + 4 + len(op.Value)
	}
	frame := make([]byte, 4, 4+total)
	binary.BigEndian.PutUint32(frame, uint32(len(ops)))

	for _, op := range ops {
		var flag [1]byte
		if op.Deleted {
			flag[0] = 1
		}
		frame = append(frame, flag[0])

		var kl [4]byte
		binary.BigEndian.PutUint32(kl[:], uint32(len(op.Key)))
		frame = append(frame, kl[:]...)
		frame = append(frame, op.Key...)

		var vl [4]byte
		binary.BigEndian.PutUint32(vl[:], uint32(len(op.Value)))
		frame = append(frame, vl[:]...)
		frame = append(frame, op.Value...)
	}
	return frame
}

// replay reads every batch frame from the start of the log, applying
// each to fn in order. Used on open to recover any writes whose
// segment flush never completed.
func replayWAL(path string, fn func(ops []Op)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("kvstore: open wal for replay %q: %w", path, err)
	}
	defer f.Close()

	for {
		var countBuf [4]byte
		if _, err := io.ReadFull(f, countBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			// A torn trailing frame (partial write at crash time) is
			// the expected end of a valid log, not a failure.
			return nil
		}
		count := binary.BigEndian.Uint32(countBuf[:])

		ops := make([]Op, 0, count)
		for i := uint32(0); i < count; i++ {
			op, err := readWALOp(f)
			if err != nil {
				return nil
			}
			ops = append(ops, op)
		}
		fn(ops)
	}
}

func readWALOp(f *os.File) (Op, error) {
	var flag [1]byte
	if _, err := io.ReadFull(f, flag[:]); err != nil {
		return Op{}, err
	}

	var kl [4]byte
	if _, err := io.ReadFull(f, kl[:]); err != nil {
		return Op{}, err
	}
	key := make([]byte, binary.BigEndian.Uint32(kl[:]))
	if _, err := io.ReadFull(f, key); err != nil {
		return Op{}, err
	}

	var vl [4]byte
	if _, err := io.ReadFull(f, vl[:]); err != nil {
		return Op{}, err
	}
	value := make([]byte, binary.BigEndian.Uint32(vl[:]))
	if _, err := io.ReadFull(f, value); err != nil {
		return Op{}, err
	}

	return Op{Key: key, Value: value, Deleted: flag[0] == 1}, nil
}

// rotate truncates the log to empty, called once its contents are
// durably reflected in a flushed segment.
func (w *wal) rotate() error {
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	_, err := w.f.Seek(0, io.SeekStart)
	return err
}

func (w *wal) close() error { return w.f.Close() }

func walPath(localDir string) string {
	return filepath.Join(localDir, "wal.log")
}
