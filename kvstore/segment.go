package kvstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zerofs/zerofs-go/objstore"
)

// segment is an immutable, key-sorted run of records flushed from the
// memtable (or produced by compacting other segments) and stored as a
// single object. Its in-memory index is the full sorted key list,
// loaded once at open/compaction time; at this engine's scale a sparse
// block index is unnecessary complexity.
type segment struct {
	id      uint64
	objKey  string
	keys    [][]byte
	records map[string]Record
}

func segmentObjectKey(id uint64) string {
	return fmt.Sprintf("segments/%020d.seg", id)
}

// encodeSegment serializes sorted records into the on-object-store
// segment format: a count, then each record as
// [flag][keylen][key][vallen][value].
func encodeSegment(records []Record) []byte {
	var total int
	for _, r := range records {
		total += 1 + 4 + len(r.Key) + 4 + len(r.Value)
	}
	buf := make([]byte, 4, 4+total)
	binary.BigEndian.PutUint32(buf, uint32(len(records)))

	for _, r := range records {
		var flag [1]byte
		if r.Deleted {
			flag[0] = 1
		}
		buf = append(buf, flag[0])

		var kl [4]byte
		binary.BigEndian.PutUint32(kl[:], uint32(len(r.Key)))
		buf = append(buf, kl[:]...)
		buf = append(buf, r.Key...)

		var vl [4]byte
		binary.BigEndian.PutUint32(vl[:], uint32(len(r.Value)))
		buf = append(buf, vl[:]...)
		buf = append(buf, r.Value...)
	}
	return buf
}

func decodeSegment(data []byte) ([]Record, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("kvstore: truncated segment header")
	}
	count := binary.BigEndian.Uint32(data)
	data = data[4:]

	records := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 1 {
			return nil, fmt.Errorf("kvstore: truncated segment record %d", i)
		}
		deleted := data[0] == 1
		data = data[1:]

		if len(data) < 4 {
			return nil, fmt.Errorf("kvstore: truncated segment key length %d", i)
		}
		kl := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < kl {
			return nil, fmt.Errorf("kvstore: truncated segment key %d", i)
		}
		key := data[:kl]
		data = data[kl:]

		if len(data) < 4 {
			return nil, fmt.Errorf("kvstore: truncated segment value length %d", i)
		}
		vl := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < vl {
			return nil, fmt.Errorf("kvstore: truncated segment value %d", i)
		}
		value := data[:vl]
		data = data[vl:]

		records = append(records, Record{Key: key, Value: value, Deleted: deleted})
	}
	return records, nil
}

// writeSegment flushes sorted records to the object store under a
// fresh object key and returns the loaded in-memory segment.
func writeSegment(ctx context.Context, store objstore.Store, id uint64, records []Record) (*segment, error) {
	key := segmentObjectKey(id)
	if err := store.Put(ctx, key, encodeSegment(records)); err != nil {
		return nil, fmt.Errorf("kvstore: write segment %d: %w", id, err)
	}
	return loadSegmentFromRecords(id, key, records), nil
}

func loadSegment(ctx context.Context, store objstore.Store, id uint64, key string) (*segment, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kvstore: load segment %d: %w", id, err)
	}
	records, err := decodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("kvstore: decode segment %d: %w", id, err)
	}
	return loadSegmentFromRecords(id, key, records), nil
}

func loadSegmentFromRecords(id uint64, key string, records []Record) *segment {
	s := &segment{id: id, objKey: key, records: make(map[string]Record, len(records))}
	for _, r := range records {
		s.keys = append(s.keys, r.Key)
		s.records[string(r.Key)] = r
	}
	return s
}

func (s *segment) get(key []byte) (Record, bool) {
	rec, ok := s.records[string(key)]
	return rec, ok
}

func (s *segment) scan(start, end []byte) []Record {
	lo := 0
	if start != nil {
		lo = sort.Search(len(s.keys), func(i int) bool { return compareKeys(s.keys[i], start) >= 0 })
	}
	hi := len(s.keys)
	if end != nil {
		hi = sort.Search(len(s.keys), func(i int) bool { return compareKeys(s.keys[i], end) >= 0 })
	}
	out := make([]Record, 0, hi-lo)
	for _, k := range s.keys[lo:hi] {
		out = append(out, s.records[string(k)])
	}
	return out
}

func (s *segment) sizeBytes() int {
	total := 0
	for _, r := range s.records {
		total += len(r.Key) + len(r.Value)
	}
	return total
}
