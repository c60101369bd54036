package foreman

import (
	"sync"
	"time"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"
	"github.com/gookit/slog"
	"golang.org/x/sync/errgroup"
)

// Handle magic numbers. World and worker-thread handles each begin with a
// distinct sentinel so mutations can be routed to the right stage.
const (
	worldMagic  uint32 = 0x65637377
	threadMagic uint32 = 0x65637374
)

const nameCacheCapacity = 4096

// World stores and manages all ECS data: the type registry, archetype tables,
// systems, stages and the worker pool. An application can have more than one
// world; data is never shared between worlds.
type World struct {
	magic       uint32
	allocator   idAllocator
	descriptors *descriptors
	types       *typeRegistry
	names       Cache[EntityID]

	colSystems       map[EntityID]*colSystem
	rowSystems       map[EntityID]*rowSystem
	phases           [phaseCount][]*colSystem
	rowSystemsByKind [3][]*rowSystem
	triggerCache     map[triggerKey][]*rowSystem

	mainStage *stage
	tempStage *stage
	workers   []*workerThread
	group     *errgroup.Group
	jobWG     sync.WaitGroup

	locks     mask.Mask256
	singleton EntityID
	context   any

	targetFPS  float32
	deltaTime  float32
	tick       uint32
	lastFrame  time.Time
	frameTime  float32
	systemTime float32
	mergeTime  float32

	pendingThreads    int
	autoMerge         bool
	measureFrameTime  bool
	measureSystemTime bool

	validSchedule bool
	inProgress    bool
	isMerging     bool
	shouldQuit    bool
}

func newWorld(opts ...Option) *World {
	w := &World{
		magic:        worldMagic,
		descriptors:  newDescriptors(),
		types:        newTypeRegistry(),
		names:        NewCache[EntityID](nameCacheCapacity),
		colSystems:   make(map[EntityID]*colSystem),
		rowSystems:   make(map[EntityID]*rowSystem),
		triggerCache: make(map[triggerKey][]*rowSystem),
		autoMerge:    true,
	}
	w.mainStage = newStage(w, true)
	w.tempStage = newStage(w, false)

	w.singleton = w.allocator.next()
	w.mainStage.entityIndex[w.singleton] = rowRecord{}

	for _, opt := range opts {
		opt(w)
	}
	if w.pendingThreads > 0 {
		w.SetThreads(w.pendingThreads)
	}
	return w
}

// Fini tears down the world, stopping all worker threads.
func (w *World) Fini() {
	w.SetThreads(0)
	slog.Debugf("world finished after %d ticks", w.tick)
}

// --- names and descriptors ---

// NewComponent registers a component: an entity carrying a fixed byte size.
func (w *World) NewComponent(name string, size uint32) EntityID {
	id := w.allocator.next()
	w.descriptors.components[id] = componentInfo{
		size: size,
		bit:  w.types.schema.rowIndexFor(id),
	}
	w.registerName(name, id)
	return id
}

// NewPrefab registers a prefab entity, usable as a type member and as a
// component source for matched systems.
func (w *World) NewPrefab(name string) EntityID {
	id := w.allocator.next()
	w.descriptors.prefabs[id] = struct{}{}
	w.mainStage.entityIndex[id] = rowRecord{}
	w.registerName(name, id)
	return id
}

// NewNamedEntity creates an empty entity resolvable by name in signatures.
func (w *World) NewNamedEntity(name string) EntityID {
	id := w.allocator.next()
	w.mainStage.entityIndex[id] = rowRecord{}
	w.registerName(name, id)
	return id
}

func (w *World) registerName(name string, id EntityID) {
	if name == "" {
		return
	}
	if _, err := w.names.Register(name, id); err != nil {
		panic(bark.AddTrace(err))
	}
}

// Lookup resolves a registered name to its entity id, or 0.
func (w *World) Lookup(name string) EntityID {
	idx, ok := w.names.GetIndex(name)
	if !ok {
		return 0
	}
	return *w.names.GetItem(idx)
}

// Singleton returns the world's singleton entity, the target of $. sources.
func (w *World) Singleton() EntityID { return w.singleton }

// --- handle implementation (main/temp stage routing) ---

var _ Handle = &World{}

// AsWorld returns the underlying world; the world is its own handle.
func (w *World) AsWorld() *World { return w }

// NewEntity creates an empty entity.
func (w *World) NewEntity() (EntityID, error) {
	return w.NewEntityWith()
}

// NewEntityWith creates an entity with the given components. While the world
// is progressing, creation is buffered in the temp stage.
func (w *World) NewEntityWith(comps ...EntityID) (EntityID, error) {
	if w.inProgress {
		return w.tempStage.stageNew(comps)
	}
	return w.commitNew(comps)
}

// Add attaches components to an entity, migrating it to the destination
// table. Adding a component the entity already has is a no-op.
func (w *World) Add(e EntityID, comps ...EntityID) error {
	if w.inProgress {
		return w.tempStage.stageAdd(e, comps...)
	}
	return w.commitAdd(w.mainStage, e, comps)
}

// Remove detaches components from an entity.
func (w *World) Remove(e EntityID, comps ...EntityID) error {
	if w.inProgress {
		return w.tempStage.stageRemove(e, comps...)
	}
	return w.commitRemove(e, comps...)
}

// Set writes a component value, adding the component first if absent.
func (w *World) Set(e EntityID, comp EntityID, value []byte) error {
	if w.inProgress {
		return w.tempStage.stageSet(e, comp, value)
	}
	return w.commitSet(e, comp, value)
}

// Get returns the bytes of a component on an entity.
func (w *World) Get(e EntityID, comp EntityID) ([]byte, error) {
	if w.inProgress {
		return w.tempStage.lookupStaged(e, comp)
	}
	return w.mainLookup(e, comp)
}

// Has reports whether the entity currently owns the component in this scope.
func (w *World) Has(e EntityID, comp EntityID) bool {
	if w.inProgress {
		typ, ok := w.tempStage.stagedType(e)
		return ok && w.types.contains(typ, comp)
	}
	return w.hasComponent(e, comp)
}

// Delete destroys an entity and all its components.
func (w *World) Delete(e EntityID) error {
	if w.inProgress {
		return w.tempStage.stageDelete(e)
	}
	return w.commitDelete(e)
}

// TypeOfEntity returns the entity's current type id in this scope.
func (w *World) TypeOfEntity(e EntityID) (TypeID, error) {
	if w.inProgress {
		if typ, ok := w.tempStage.stagedType(e); ok {
			return typ, nil
		}
		return 0, InvalidHandleError{Entity: e}
	}
	record, ok := w.mainStage.entityIndex[e]
	if !ok {
		return 0, InvalidHandleError{Entity: e}
	}
	return record.typ, nil
}

// Type interns an explicit component-id set.
func (w *World) Type(ids ...EntityID) (TypeID, error) {
	return w.types.intern(w, ids)
}

// TypeOf returns a borrow-only view of the sequence behind a type id.
func (w *World) TypeOf(t TypeID) []EntityID {
	return w.types.typeOf(t)
}

// --- immediate commit paths against the main stage ---

func (w *World) commitNew(comps []EntityID) (EntityID, error) {
	if w.Locked() {
		return 0, ConflictingStateError{Msg: "structural mutation while storage is locked"}
	}
	typ, err := w.types.intern(w, comps)
	if err != nil {
		return 0, err
	}
	e := w.allocator.next()
	if typ == 0 {
		w.mainStage.entityIndex[e] = rowRecord{}
		return e, nil
	}
	tbl, err := w.types.tableOf(w, typ)
	if err != nil {
		return 0, err
	}
	row := tbl.insert(w, e)
	w.mainStage.entityIndex[e] = rowRecord{typ: typ, row: row}
	w.notifyRowSystems(w, OnAdd, e, typ)
	return e, nil
}

func (w *World) commitAdd(s *stage, e EntityID, comps []EntityID) error {
	if w.Locked() {
		return ConflictingStateError{Msg: "structural mutation while storage is locked"}
	}
	record, ok := s.entityIndex[e]
	if !ok {
		return InvalidHandleError{Entity: e}
	}
	newType, err := w.types.merge(w, record.typ, comps...)
	if err != nil {
		return err
	}
	if newType == record.typ {
		return nil
	}

	added := make([]EntityID, 0, len(comps))
	for _, comp := range comps {
		if !w.types.contains(record.typ, comp) {
			added = append(added, comp)
		}
	}

	dst, err := w.types.tableOf(w, newType)
	if err != nil {
		return err
	}
	var newRow int32
	if record.typ == 0 {
		newRow = dst.insert(w, e)
	} else {
		src := w.types.table(record.typ)
		newRow = src.moveRowTo(w, dst, record.row)
	}
	s.entityIndex[e] = rowRecord{typ: newType, row: newRow}

	trigger, err := w.types.intern(w, added)
	if err != nil {
		return err
	}
	w.notifyRowSystems(w, OnAdd, e, trigger)
	return nil
}

func (w *World) commitRemove(e EntityID, comps ...EntityID) error {
	if w.Locked() {
		return ConflictingStateError{Msg: "structural mutation while storage is locked"}
	}
	record, ok := w.mainStage.entityIndex[e]
	if !ok {
		return InvalidHandleError{Entity: e}
	}
	present := make([]EntityID, 0, len(comps))
	for _, comp := range comps {
		if w.types.contains(record.typ, comp) {
			present = append(present, comp)
		}
	}
	if len(present) == 0 {
		return nil
	}

	// fire before physical removal so the systems still see the data
	trigger, err := w.types.intern(w, present)
	if err != nil {
		return err
	}
	w.notifyRowSystems(w, OnRemove, e, trigger)

	newType, err := w.types.subtract(w, record.typ, comps...)
	if err != nil {
		return err
	}
	record = w.mainStage.entityIndex[e]
	src := w.types.table(record.typ)
	if newType == 0 {
		src.delete(w, record.row)
		w.mainStage.entityIndex[e] = rowRecord{}
		return nil
	}
	dst, err := w.types.tableOf(w, newType)
	if err != nil {
		return err
	}
	newRow := src.moveRowTo(w, dst, record.row)
	w.mainStage.entityIndex[e] = rowRecord{typ: newType, row: newRow}
	return nil
}

func (w *World) commitSet(e EntityID, comp EntityID, value []byte) error {
	if err := w.commitAdd(w.mainStage, e, []EntityID{comp}); err != nil {
		return err
	}
	record := w.mainStage.entityIndex[e]
	tbl := w.types.table(record.typ)
	colIdx, ok := tbl.columnIndex(comp)
	if !ok || tbl.columns[colIdx].size == 0 {
		return MissingComponentError{Entity: e, Component: comp}
	}
	if len(value) != int(tbl.columns[colIdx].size) {
		return ConflictingStateError{Msg: "value size does not match component size"}
	}
	copy(tbl.bytesAt(colIdx, record.row), value)

	trigger, err := w.types.intern(w, []EntityID{comp})
	if err != nil {
		return err
	}
	w.notifyRowSystems(w, OnSet, e, trigger)
	return nil
}

func (w *World) commitDelete(e EntityID) error {
	if w.Locked() {
		return ConflictingStateError{Msg: "structural mutation while storage is locked"}
	}
	record, ok := w.mainStage.entityIndex[e]
	if !ok {
		return InvalidHandleError{Entity: e}
	}
	if record.typ != 0 {
		w.notifyRowSystems(w, OnRemove, e, record.typ)
		record = w.mainStage.entityIndex[e]
		w.types.table(record.typ).delete(w, record.row)
	}
	delete(w.mainStage.entityIndex, e)
	return nil
}

func (w *World) mainLookup(e EntityID, comp EntityID) ([]byte, error) {
	if _, ok := w.mainStage.entityIndex[e]; !ok {
		return nil, InvalidHandleError{Entity: e}
	}
	bytes := w.mainBytes(e, comp)
	if bytes == nil {
		return nil, MissingComponentError{Entity: e, Component: comp}
	}
	return bytes, nil
}

func (w *World) mainBytes(e EntityID, comp EntityID) []byte {
	record, ok := w.mainStage.entityIndex[e]
	if !ok || record.typ == 0 {
		return nil
	}
	tbl := w.types.table(record.typ)
	if tbl == nil {
		return nil
	}
	colIdx, ok := tbl.columnIndex(comp)
	if !ok || tbl.columns[colIdx].size == 0 {
		return nil
	}
	return tbl.bytesAt(colIdx, record.row)
}

// --- locks ---

// AddLock marks a bit lock; any lock rejects immediate structural mutation.
func (w *World) AddLock(bit uint32) { w.locks.Mark(bit) }

// RemoveLock releases a bit lock.
func (w *World) RemoveLock(bit uint32) { w.locks.Unmark(bit) }

// Locked reports whether any bit lock is held.
func (w *World) Locked() bool { return !w.locks.IsEmpty() }

// --- frame progression ---

// Progress advances the world by one frame: runs every phase's systems in
// order, then merges all stages (unless auto-merge is off). A zero delta is
// measured from the previous frame. Returns false once a quit was signaled.
func (w *World) Progress(delta float32) bool {
	frameStart := time.Now()
	if delta == 0 && !w.lastFrame.IsZero() {
		delta = float32(frameStart.Sub(w.lastFrame).Seconds())
	}
	w.lastFrame = frameStart
	w.deltaTime = delta

	w.inProgress = true
	systemStart := time.Now()
	for kind := OnLoad; kind < Manual; kind++ {
		w.runPhase(w.phases[kind], delta)
	}
	if w.measureSystemTime {
		w.systemTime += float32(time.Since(systemStart).Seconds())
	}
	w.inProgress = false
	w.validSchedule = true

	if w.autoMerge {
		mergeStart := time.Now()
		w.mergeAll()
		w.mergeTime += float32(time.Since(mergeStart).Seconds())
	}
	w.tick++

	if w.measureFrameTime {
		w.frameTime += float32(time.Since(frameStart).Seconds())
	}
	w.sleepToTarget(frameStart)
	return !w.shouldQuit
}

// sleepToTarget prevents overshooting the configured frame rate.
func (w *World) sleepToTarget(frameStart time.Time) {
	if w.targetFPS <= 0 {
		return
	}
	period := time.Duration(float64(time.Second) / float64(w.targetFPS))
	if spent := time.Since(frameStart); spent < period {
		time.Sleep(period - spent)
	}
}

// Merge merges the temp and worker stages into the main stage. Only needed
// when auto-merge is disabled.
func (w *World) Merge() {
	w.mergeAll()
}

func (w *World) invalidateSchedule() {
	w.validSchedule = false
}

// Quit makes the world stop accepting frames after the current one completes.
func (w *World) Quit() { w.shouldQuit = true }

// ShouldQuit reports whether a quit was signaled.
func (w *World) ShouldQuit() bool { return w.shouldQuit }

// SetTargetFPS adjusts the frame cap at runtime. 0 is uncapped.
func (w *World) SetTargetFPS(fps float32) { w.targetFPS = fps }

// Context returns the opaque user pointer.
func (w *World) Context() any { return w.context }

// SetContext replaces the opaque user pointer.
func (w *World) SetContext(ctx any) { w.context = ctx }

// Tick returns the number of frames computed so far.
func (w *World) Tick() uint32 { return w.tick }

// DeltaTime returns the delta of the frame in progress (or the last frame).
func (w *World) DeltaTime() float32 { return w.deltaTime }

// FrameTime returns accumulated frame time when measurement is enabled.
func (w *World) FrameTime() float32 { return w.frameTime }

// SystemTime returns accumulated system time when measurement is enabled.
func (w *World) SystemTime() float32 { return w.systemTime }

// MergeTime returns accumulated merge time.
func (w *World) MergeTime() float32 { return w.mergeTime }
