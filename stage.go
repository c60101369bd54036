package foreman

import (
	"slices"

	"github.com/gookit/slog"
)

// stageDataKey addresses one buffered column in a stage.
type stageDataKey struct {
	typ  TypeID
	comp EntityID
}

// stagedEntity is one entity's pending structural state inside a stage.
type stagedEntity struct {
	typ   TypeID
	row   int32
	added []EntityID
	set   []EntityID
}

// stage records entity structural deltas without mutating the main world.
// The main stage holds the authoritative entity index; temp and worker stages
// hold an overlay that overrides it for lookups in their scope, plus buffered
// column data keyed by (type id, component id).
type stage struct {
	world *World
	main  bool

	entityIndex map[EntityID]rowRecord

	overlay     map[EntityID]*stagedEntity
	data        map[stageDataKey][]byte
	stagedCount map[TypeID]int32
	removeMerge map[EntityID][]EntityID
	deleted     map[EntityID]bool
}

func newStage(w *World, main bool) *stage {
	s := &stage{world: w, main: main}
	if main {
		s.entityIndex = make(map[EntityID]rowRecord)
		return s
	}
	s.reset()
	return s
}

func (s *stage) reset() {
	s.overlay = make(map[EntityID]*stagedEntity)
	s.data = make(map[stageDataKey][]byte)
	s.stagedCount = make(map[TypeID]int32)
	s.removeMerge = make(map[EntityID][]EntityID)
	s.deleted = make(map[EntityID]bool)
}

// ensureStaged returns the overlay entry for an entity, creating one seeded
// from the main index on first touch.
func (s *stage) ensureStaged(e EntityID) *stagedEntity {
	if entry, ok := s.overlay[e]; ok {
		return entry
	}
	typ := TypeID(0)
	if record, ok := s.world.mainStage.entityIndex[e]; ok {
		typ = record.typ
	}
	entry := &stagedEntity{typ: typ, row: s.allocRow(typ)}
	s.overlay[e] = entry
	return entry
}

func (s *stage) allocRow(typ TypeID) int32 {
	if typ == 0 {
		return 0
	}
	row := s.stagedCount[typ]
	s.stagedCount[typ] = row + 1
	return row
}

// restage moves an entry to a new staged type, migrating written bytes into
// the buffers of the new type.
func (s *stage) restage(entry *stagedEntity, newType TypeID) {
	if newType == entry.typ {
		return
	}
	newRow := s.allocRow(newType)
	for _, comp := range entry.set {
		if !s.world.types.contains(newType, comp) {
			continue
		}
		src := s.bufferAt(entry.typ, comp, entry.row)
		dst := s.growBuffer(newType, comp, newRow)
		copy(dst, src)
	}
	entry.typ = newType
	entry.row = newRow
}

// growBuffer ensures a (type, component) buffer covers the staged row and
// returns that row's bytes.
func (s *stage) growBuffer(typ TypeID, comp EntityID, row int32) []byte {
	size := int32(s.world.descriptors.sizeOf(comp))
	key := stageDataKey{typ: typ, comp: comp}
	buf := s.data[key]
	needed := (row + 1) * size
	for int32(len(buf)) < needed {
		buf = append(buf, make([]byte, int(needed)-len(buf))...)
	}
	s.data[key] = buf
	return buf[row*size : (row+1)*size]
}

func (s *stage) bufferAt(typ TypeID, comp EntityID, row int32) []byte {
	size := int32(s.world.descriptors.sizeOf(comp))
	key := stageDataKey{typ: typ, comp: comp}
	buf := s.data[key]
	if int32(len(buf)) < (row+1)*size {
		return nil
	}
	return buf[row*size : (row+1)*size]
}

// stageNew buffers creation of an entity with the given components.
func (s *stage) stageNew(comps []EntityID) (EntityID, error) {
	typ, err := s.world.types.intern(s.world, comps)
	if err != nil {
		return 0, err
	}
	e := s.world.allocator.next()
	entry := &stagedEntity{typ: typ, row: s.allocRow(typ)}
	entry.added = append(entry.added, s.world.types.typeOf(typ)...)
	s.overlay[e] = entry
	return e, nil
}

// stageAdd buffers addition of components to an entity.
func (s *stage) stageAdd(e EntityID, comps ...EntityID) error {
	if s.deleted[e] {
		return InvalidHandleError{Entity: e}
	}
	entry := s.ensureStaged(e)
	newType, err := s.world.types.merge(s.world, entry.typ, comps...)
	if err != nil {
		return err
	}
	for _, comp := range comps {
		if !s.world.types.contains(entry.typ, comp) && !slices.Contains(entry.added, comp) {
			entry.added = append(entry.added, comp)
		}
	}
	s.restage(entry, newType)
	return nil
}

// stageRemove buffers removal of components from an entity.
func (s *stage) stageRemove(e EntityID, comps ...EntityID) error {
	if s.deleted[e] {
		return InvalidHandleError{Entity: e}
	}
	entry := s.ensureStaged(e)
	newType, err := s.world.types.subtract(s.world, entry.typ, comps...)
	if err != nil {
		return err
	}
	for _, comp := range comps {
		if !slices.Contains(s.removeMerge[e], comp) {
			s.removeMerge[e] = append(s.removeMerge[e], comp)
		}
		entry.added = slices.DeleteFunc(entry.added, func(id EntityID) bool { return id == comp })
		entry.set = slices.DeleteFunc(entry.set, func(id EntityID) bool { return id == comp })
	}
	s.restage(entry, newType)
	return nil
}

// stageSet buffers a component value write, adding the component first when
// the entity does not yet have it.
func (s *stage) stageSet(e EntityID, comp EntityID, value []byte) error {
	if err := s.stageAdd(e, comp); err != nil {
		return err
	}
	entry := s.overlay[e]
	size := s.world.descriptors.sizeOf(comp)
	if int(size) != len(value) {
		return ConflictingStateError{Msg: "value size does not match component size"}
	}
	dst := s.growBuffer(entry.typ, comp, entry.row)
	if !slices.Contains(entry.set, comp) {
		entry.set = append(entry.set, comp)
		// seed from the main stage so the staged copy starts from live bytes
		if mainBytes := s.world.mainBytes(e, comp); mainBytes != nil {
			copy(dst, mainBytes)
		}
	}
	copy(dst, value)
	return nil
}

// stageDelete buffers destruction of an entity.
func (s *stage) stageDelete(e EntityID) error {
	entry := s.ensureStaged(e)
	s.removeMerge[e] = append([]EntityID{}, s.world.types.typeOf(entry.typ)...)
	s.deleted[e] = true
	entry.typ = 0
	entry.added = nil
	entry.set = nil
	return nil
}

// lookupStaged resolves a component read inside the stage's scope: the
// overlay overrides the main entity index, written bytes override main bytes.
func (s *stage) lookupStaged(e EntityID, comp EntityID) ([]byte, error) {
	if s.deleted[e] {
		return nil, InvalidHandleError{Entity: e}
	}
	entry, ok := s.overlay[e]
	if !ok {
		return s.world.mainLookup(e, comp)
	}
	if !s.world.types.contains(entry.typ, comp) {
		return nil, MissingComponentError{Entity: e, Component: comp}
	}
	if slices.Contains(entry.set, comp) {
		return s.bufferAt(entry.typ, comp, entry.row), nil
	}
	if mainBytes := s.world.mainBytes(e, comp); mainBytes != nil {
		return mainBytes, nil
	}
	// added but never written: hand out the zeroed staged buffer, which is
	// mutable, so record the write intent for the merge
	entry.set = append(entry.set, comp)
	return s.growBuffer(entry.typ, comp, entry.row), nil
}

func (s *stage) stagedType(e EntityID) (TypeID, bool) {
	if s.deleted[e] {
		return 0, false
	}
	if entry, ok := s.overlay[e]; ok {
		return entry.typ, true
	}
	if record, ok := s.world.mainStage.entityIndex[e]; ok {
		return record.typ, true
	}
	return 0, false
}

// mergeStage applies a stage's deltas to the main stage: removes first, then adds
// and value writes, firing row systems for every merged change. Entities are
// processed in ascending id order so outcomes are reproducible.
func (w *World) mergeStage(s *stage) error {
	if s.main {
		return nil
	}

	removals := make([]EntityID, 0, len(s.removeMerge))
	for e := range s.removeMerge {
		removals = append(removals, e)
	}
	slices.Sort(removals)
	for _, e := range removals {
		// entities created and unmade within the same stage never reach the
		// main stage at all
		if _, ok := w.mainStage.entityIndex[e]; !ok {
			continue
		}
		if s.deleted[e] {
			if err := w.commitDelete(e); err != nil {
				return err
			}
			continue
		}
		if err := w.commitRemove(e, s.removeMerge[e]...); err != nil {
			return err
		}
	}

	additions := make([]EntityID, 0, len(s.overlay))
	for e := range s.overlay {
		if !s.deleted[e] {
			additions = append(additions, e)
		}
	}
	slices.Sort(additions)
	for _, e := range additions {
		if err := w.commitStaged(s, e, s.overlay[e]); err != nil {
			return err
		}
	}

	s.reset()
	return nil
}

// commitStaged lands one overlay entry in the main stage.
func (w *World) commitStaged(s *stage, e EntityID, entry *stagedEntity) error {
	if entry.typ == 0 {
		if _, ok := w.mainStage.entityIndex[e]; !ok {
			w.mainStage.entityIndex[e] = rowRecord{}
		}
		return nil
	}
	dst, err := w.types.tableOf(w, entry.typ)
	if err != nil {
		return err
	}

	record, exists := w.mainStage.entityIndex[e]
	var newRow int32
	switch {
	case !exists || record.typ == 0:
		newRow = dst.insert(w, e)
	default:
		src := w.types.table(record.typ)
		newRow = src.moveRowTo(w, dst, record.row)
	}
	w.mainStage.entityIndex[e] = rowRecord{typ: entry.typ, row: newRow}

	for _, comp := range entry.set {
		colIdx, ok := dst.columnIndex(comp)
		if !ok || dst.columns[colIdx].size == 0 {
			continue
		}
		staged := s.bufferAt(entry.typ, comp, entry.row)
		if staged == nil {
			continue
		}
		record = w.mainStage.entityIndex[e]
		copy(dst.bytesAt(colIdx, record.row), staged)
	}

	if len(entry.added) > 0 {
		trigger, err := w.types.intern(w, entry.added)
		if err != nil {
			return err
		}
		w.notifyRowSystems(w, OnAdd, e, trigger)
	}
	if len(entry.set) > 0 {
		trigger, err := w.types.intern(w, entry.set)
		if err != nil {
			return err
		}
		w.notifyRowSystems(w, OnSet, e, trigger)
	}
	return nil
}

// mergeAll merges the temp stage and every worker stage, in worker-id order.
// A failed merge aborts the frame's remaining merges; the world stays usable.
func (w *World) mergeAll() {
	w.isMerging = true
	defer func() { w.isMerging = false }()

	if err := w.mergeStage(w.tempStage); err != nil {
		slog.Errorf("temp stage merge failed: %v", err)
		return
	}
	for _, worker := range w.workers {
		if err := w.mergeStage(worker.stage); err != nil {
			slog.Errorf("worker %d stage merge failed: %v", worker.index, err)
			return
		}
	}
}
