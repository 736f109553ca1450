package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ErrUnsupportedVersion is returned by Open when the on-disk version byte
// does not match Version. The caller must treat this as fatal.
var ErrUnsupportedVersion = fmt.Errorf("journal: unsupported version")

// Journal is the sole writer of the durable append-only log. It is owned
// exclusively by the Database Engine; no other component may write to it.
type Journal struct {
	file   *os.File
	sync   bool
	closed atomic.Bool
}

// Open opens (creating if necessary) the journal file at path. If the
// file is new, the magic+version header is written immediately. If the
// file exists, its header is validated.
func Open(path string, fsyncOnPersist bool) (*Journal, error) {
	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if !existed {
		if _, err := f.Write(header()); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("journal: write header: %w", err)
		}
		if fsyncOnPersist {
			if err := f.Sync(); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("journal: sync header: %w", err)
			}
		}
	} else {
		if err := validateHeader(f); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: seek end: %w", err)
	}

	return &Journal{file: f, sync: fsyncOnPersist}, nil
}

func validateHeader(f *os.File) error {
	var hdr [5]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return fmt.Errorf("journal: read header: %w", err)
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return fmt.Errorf("journal: bad magic")
	}
	if hdr[4] != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, hdr[4], Version)
	}
	return nil
}

// AppendBatch writes one or more records as a single logical group: all
// records are written before any fsync, so a batch acknowledged by the
// Engine is durable (or absent) as a unit.
//
// A write failure here is fatal per §4.1: the caller must log and
// terminate the process rather than attempt to continue.
func (j *Journal) AppendBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf []byte
	for _, r := range records {
		payload := r.Encode(nil)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, payload...)
	}

	if _, err := j.file.Write(buf); err != nil {
		return fmt.Errorf("journal: write batch: %w", err)
	}

	if j.sync {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("journal: fsync: %w", err)
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.closed.Store(true)
	return j.file.Close()
}

// Writable reports whether the journal is still open for appends, for
// use by the health checker's readiness probe.
func (j *Journal) Writable() bool {
	return !j.closed.Load()
}

// ReadAll replays every record from the start of the file in file order.
// It is used exclusively at startup, before any writer goroutine exists.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	if err := validateHeader(f); err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	var records []Record
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("journal: read length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("journal: truncated record (corrupt journal): %w", err)
		}
		rec, err := Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("journal: corrupt record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
