package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/machinefabric/toolbridge-go/kvstore"
)

// DefaultMaxBytes bounds a single incremental read when the caller does not
// say otherwise.
const DefaultMaxBytes = 65536

const offsetKeyPrefix = "offset:"

// OffsetRecord is the persisted read cursor for one file: the absolute byte
// offset already consumed and the file size observed when the cursor was
// last updated. Offset ≤ Size unless the file shrank since, which signals
// truncation or rotation.
type OffsetRecord struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// Chunk is the outcome of one incremental read.
type Chunk struct {
	Path      string `json:"path"`
	Data      string `json:"chunk"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	EOF       bool   `json:"eof"`
	BytesRead int    `json:"bytes_read"`
	FileSize  int64  `json:"file_size"`
}

// Tracker maintains persisted read cursors keyed by canonical absolute path.
type Tracker struct {
	store kvstore.Store
}

// NewTracker creates a tracker over the given store.
func NewTracker(store kvstore.Store) *Tracker {
	return &Tracker{store: store}
}

// OffsetKey returns the store key for path's cursor.
func OffsetKey(path string) string {
	return offsetKeyPrefix + canonical(path)
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Offset loads the stored cursor for path, defaulting to zero when none has
// been persisted yet.
func (t *Tracker) Offset(path string) (OffsetRecord, bool, error) {
	raw, found, err := t.store.Get(OffsetKey(path))
	if err != nil {
		return OffsetRecord{}, false, err
	}
	if !found {
		return OffsetRecord{}, false, nil
	}
	var rec OffsetRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A mangled record behaves like no record at all.
		return OffsetRecord{}, false, nil
	}
	return rec, true, nil
}

// SetOffset force-sets the cursor for path, recording the file's current
// size alongside it.
func (t *Tracker) SetOffset(path string, offset int64) (OffsetRecord, error) {
	var size int64
	if info, err := os.Stat(canonical(path)); err == nil {
		size = info.Size()
	}
	rec := OffsetRecord{Offset: offset, Size: size}
	return rec, t.persist(path, rec)
}

// ResetOffset rewinds the cursor for path to zero.
func (t *Tracker) ResetOffset(path string) (OffsetRecord, error) {
	return t.SetOffset(path, 0)
}

func (t *Tracker) persist(path string, rec OffsetRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode offset record: %w", err)
	}
	return t.store.Set(OffsetKey(path), string(buf))
}

// ReadIncremental reads up to maxBytes of new content from path starting at
// the persisted cursor. A shrunken file or a cursor beyond the current size
// resets the cursor to zero (truncation/rotation). The new cursor and the
// current size are persisted after every call, even when zero bytes were
// read. EOF is true iff the new cursor equals the current size.
func (t *Tracker) ReadIncremental(path string, maxBytes int) (*Chunk, error) {
	abs := canonical(path)
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	size := info.Size()

	prev, found, err := t.Offset(abs)
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if found {
		start = prev.Offset
		if size < prev.Size || start > size {
			start = 0
		}
	}

	want := size - start
	if want > int64(maxBytes) {
		want = int64(maxBytes)
	}

	data := make([]byte, 0)
	if want > 0 {
		f, err := os.Open(abs)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", abs, err)
		}
		defer f.Close()

		buf := make([]byte, want)
		n, err := f.ReadAt(buf, start)
		if err != nil && n == 0 {
			return nil, fmt.Errorf("read %s at %d: %w", abs, start, err)
		}
		data = buf[:n]
	}

	end := start + int64(len(data))
	if err := t.persist(abs, OffsetRecord{Offset: end, Size: size}); err != nil {
		return nil, err
	}

	return &Chunk{
		Path:      abs,
		Data:      string(data),
		Start:     start,
		End:       end,
		EOF:       end >= size,
		BytesRead: len(data),
		FileSize:  size,
	}, nil
}
