package foreman

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/TheBitDrifter/mask"
)

// schema assigns a stable bit index to every id that participates in a type.
// Bits make the matcher's set tests cheap mask operations.
type schema struct {
	bits    map[EntityID]uint32
	nextBit uint32
}

func newSchema() *schema {
	return &schema{bits: make(map[EntityID]uint32)}
}

// rowIndexFor returns the bit index for an id, assigning one on first use.
func (s *schema) rowIndexFor(id EntityID) uint32 {
	if bit, ok := s.bits[id]; ok {
		return bit
	}
	bit := s.nextBit
	s.bits[id] = bit
	s.nextBit++
	return bit
}

// typeRegistry interns ordered component-id sets into canonical type ids and
// maps each live type id to its archetype table. Interning and table creation
// are guarded by a mutex so that worker stages creating types concurrently
// always converge on a single type id and a single table per type.
type typeRegistry struct {
	mu     sync.RWMutex
	schema *schema
	byKey  map[string]TypeID
	seqs   [][]EntityID
	masks  []mask.Mask
	tables []*Table
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		schema: newSchema(),
		byKey:  make(map[string]TypeID),
	}
}

func typeKey(ids []EntityID) string {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return string(buf)
}

// intern sorts, deduplicates and hashes the id sequence, returning the
// canonical type id. Every member must denote a component or a prefab.
func (r *typeRegistry) intern(w *World, ids []EntityID) (TypeID, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sorted := make([]EntityID, len(ids))
	copy(sorted, ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, id := range sorted {
		if !w.descriptors.isComponent(id) && !w.descriptors.isPrefab(id) {
			return 0, InvalidTypeError{ID: id}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := typeKey(sorted)
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}
	var m mask.Mask
	for _, id := range sorted {
		m.Mark(r.schema.rowIndexFor(id))
	}
	r.seqs = append(r.seqs, sorted)
	r.masks = append(r.masks, m)
	r.tables = append(r.tables, nil)
	id := TypeID(len(r.seqs))
	r.byKey[key] = id
	return id, nil
}

// typeOf returns a borrow-only view of the id sequence behind a type id.
func (r *typeRegistry) typeOf(t TypeID) []EntityID {
	if t == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seqs[t-1]
}

func (r *typeRegistry) maskOf(t TypeID) mask.Mask {
	if t == 0 {
		return mask.Mask{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.masks[t-1]
}

func (r *typeRegistry) contains(t TypeID, id EntityID) bool {
	if t == 0 {
		return false
	}
	r.mu.RLock()
	seq := r.seqs[t-1]
	r.mu.RUnlock()
	_, ok := slices.BinarySearch(seq, id)
	return ok
}

// merge returns the type id of the union of a type and additional ids.
func (r *typeRegistry) merge(w *World, t TypeID, ids ...EntityID) (TypeID, error) {
	combined := append([]EntityID{}, r.typeOf(t)...)
	combined = append(combined, ids...)
	return r.intern(w, combined)
}

// subtract returns the type id of a type with the given ids removed.
func (r *typeRegistry) subtract(w *World, t TypeID, ids ...EntityID) (TypeID, error) {
	remaining := make([]EntityID, 0, len(r.typeOf(t)))
	for _, member := range r.typeOf(t) {
		if !slices.Contains(ids, member) {
			remaining = append(remaining, member)
		}
	}
	return r.intern(w, remaining)
}

// tableOf returns the archetype table for a type id, creating it on first use.
// New tables are immediately matched against all existing column systems.
func (r *typeRegistry) tableOf(w *World, t TypeID) (*Table, error) {
	if t == 0 {
		return nil, ConflictingStateError{Msg: "the empty type has no table"}
	}
	r.mu.Lock()
	if tbl := r.tables[t-1]; tbl != nil {
		r.mu.Unlock()
		return tbl, nil
	}
	tbl, err := newTable(w, t, r.seqs[t-1])
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.tables[t-1] = tbl
	r.mu.Unlock()

	w.matchTableWithSystems(tbl)
	w.invalidateSchedule()
	return tbl, nil
}

// table returns the existing table for a type id, or nil.
func (r *typeRegistry) table(t TypeID) *Table {
	if t == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tables[t-1]
}

// allTables snapshots the live tables for matching scans.
func (r *typeRegistry) allTables() []*Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Table, 0, len(r.tables))
	for _, tbl := range r.tables {
		if tbl != nil {
			out = append(out, tbl)
		}
	}
	return out
}
