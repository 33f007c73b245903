package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/conduit-lang/strata/internal/orm/backend"
)

// Index file layout: a 16-byte header followed by fixed-width entries.
//
//	header: magic[4] version:u16 reserved:u16 next:i64
//	entry:  id:i64 objectId[36] parentId:i64 orgId:i64 name[96] deleted:u8 reserved[11]
//
// All integers are little endian. Entries are appended and may be patched in
// place; they are never removed, deletion only sets the flag.
const (
	HeaderSize = 16
	EntrySize  = 168

	ObjectIDSize = 36
	NameSize     = 96

	indexVersion = 1
)

var indexMagic = [4]byte{'S', 'I', 'D', 'X'}

// Entry is one fixed-width index tuple
type Entry struct {
	ID       int64
	ObjectID string
	ParentID int64
	OrgID    int64
	Name     string
	Deleted  bool
}

func (e Entry) encode() []byte {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.ID))
	copy(buf[8:8+ObjectIDSize], e.ObjectID)
	binary.LittleEndian.PutUint64(buf[44:52], uint64(e.ParentID))
	binary.LittleEndian.PutUint64(buf[52:60], uint64(e.OrgID))
	copy(buf[60:60+NameSize], truncate(e.Name, NameSize))
	if e.Deleted {
		buf[156] = 1
	}
	return buf
}

func decodeEntry(buf []byte) Entry {
	return Entry{
		ID:       int64(binary.LittleEndian.Uint64(buf[0:8])),
		ObjectID: string(bytes.TrimRight(buf[8:8+ObjectIDSize], "\x00")),
		ParentID: int64(binary.LittleEndian.Uint64(buf[44:52])),
		OrgID:    int64(binary.LittleEndian.Uint64(buf[52:60])),
		Name:     string(bytes.TrimRight(buf[60:60+NameSize], "\x00")),
		Deleted:  buf[156] == 1,
	}
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Index is the per-model index file.
// The in-memory view is guarded for concurrent readers, but the file format
// assumes a single writing process.
type Index struct {
	mu      sync.RWMutex
	model   string
	file    *os.File
	next    int64
	entries []Entry
	pos     map[int64]int
}

// OpenIndex opens or creates the index file at path
func OpenIndex(path, model string) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &backend.IndexError{Model: model, Err: err}
	}
	ix := &Index{model: model, file: f, next: 1, pos: make(map[int64]int)}
	if err := ix.load(); err != nil {
		f.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) load() error {
	info, err := ix.file.Stat()
	if err != nil {
		return &backend.IndexError{Model: ix.model, Err: err}
	}
	if info.Size() == 0 {
		return ix.writeHeader()
	}
	if info.Size() < HeaderSize || (info.Size()-HeaderSize)%EntrySize != 0 {
		return &backend.IndexError{Model: ix.model, Err: fmt.Errorf("%w: size %d", backend.ErrCorruptIndex, info.Size())}
	}

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(io.NewSectionReader(ix.file, 0, info.Size()), data); err != nil {
		return &backend.IndexError{Model: ix.model, Err: err}
	}
	if !bytes.Equal(data[0:4], indexMagic[:]) {
		return &backend.IndexError{Model: ix.model, Err: fmt.Errorf("%w: bad magic", backend.ErrCorruptIndex)}
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != indexVersion {
		return &backend.IndexError{Model: ix.model, Err: fmt.Errorf("%w: unsupported version %d", backend.ErrCorruptIndex, v)}
	}
	ix.next = int64(binary.LittleEndian.Uint64(data[8:16]))

	for off := HeaderSize; off < len(data); off += EntrySize {
		e := decodeEntry(data[off : off+EntrySize])
		if _, dup := ix.pos[e.ID]; dup || e.ID <= 0 {
			return &backend.IndexError{Model: ix.model, ID: e.ID, Err: fmt.Errorf("%w: bad entry at offset %d", backend.ErrCorruptIndex, off)}
		}
		ix.pos[e.ID] = len(ix.entries)
		ix.entries = append(ix.entries, e)
		if e.ID >= ix.next {
			ix.next = e.ID + 1
		}
	}
	return nil
}

func (ix *Index) writeHeader() error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], indexMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], indexVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(ix.next))
	if _, err := ix.file.WriteAt(buf, 0); err != nil {
		return &backend.IndexError{Model: ix.model, Err: err}
	}
	return nil
}

// NextID reserves and returns the next id. Ids are never reused.
func (ix *Index) NextID() (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := ix.next
	ix.next++
	if err := ix.writeHeader(); err != nil {
		ix.next--
		return 0, err
	}
	return id, nil
}

// Add appends a new entry. Adding an id that is already present fails.
func (ix *Index) Add(e Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e.ID <= 0 {
		return &backend.IndexError{Model: ix.model, ID: e.ID, Err: fmt.Errorf("invalid id %d", e.ID)}
	}
	if _, dup := ix.pos[e.ID]; dup {
		return &backend.IndexError{Model: ix.model, ID: e.ID, Err: backend.ErrDuplicateID}
	}

	off := int64(HeaderSize + len(ix.entries)*EntrySize)
	if _, err := ix.file.WriteAt(e.encode(), off); err != nil {
		return &backend.IndexError{Model: ix.model, ID: e.ID, Err: err}
	}
	ix.pos[e.ID] = len(ix.entries)
	ix.entries = append(ix.entries, e)

	if e.ID >= ix.next {
		ix.next = e.ID + 1
		return ix.writeHeader()
	}
	return nil
}

// Patch rewrites an existing entry in place
func (ix *Index) Patch(e Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	i, ok := ix.pos[e.ID]
	if !ok {
		return &backend.IndexError{Model: ix.model, ID: e.ID, Err: backend.ErrNotFound}
	}
	off := int64(HeaderSize + i*EntrySize)
	if _, err := ix.file.WriteAt(e.encode(), off); err != nil {
		return &backend.IndexError{Model: ix.model, ID: e.ID, Err: err}
	}
	ix.entries[i] = e
	return nil
}

// Lookup returns the live entry for id
func (ix *Index) Lookup(id int64) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, ok := ix.pos[id]
	if !ok || ix.entries[i].Deleted {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// Entries returns the live entries ordered by id
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live entries
func (ix *Index) Len() int {
	return len(ix.Entries())
}

// Sync flushes the index file to disk
func (ix *Index) Sync() error {
	if err := ix.file.Sync(); err != nil {
		return &backend.IndexError{Model: ix.model, Err: err}
	}
	return nil
}

// Close syncs and closes the index file
func (ix *Index) Close() error {
	if err := ix.Sync(); err != nil {
		ix.file.Close()
		return err
	}
	return ix.file.Close()
}
