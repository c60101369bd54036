package foreman

import (
	"time"

	"github.com/gookit/slog"
)

// SystemKind tags a system with its execution phase (column systems) or its
// trigger operation (row systems).
type SystemKind uint8

const (
	OnLoad SystemKind = iota
	PostLoad
	PreUpdate
	OnUpdate
	OnValidate
	PostUpdate
	PreStore
	OnStore
	Manual

	OnAdd
	OnRemove
	OnSet
)

const phaseCount = int(Manual) + 1

func (k SystemKind) reactive() bool { return k >= OnAdd }

// SystemAction is the callback invoked for each matched table chunk.
type SystemAction func(*Rows)

// colSystem is a periodic system pre-matched against archetype tables.
type colSystem struct {
	entity    EntityID
	name      string
	signature string
	kind      SystemKind
	action    SystemAction

	columns []sigColumn
	masks   columnMasks

	// pre-reduced filters
	andFromEntity    TypeID
	notFromEntity    TypeID
	notFromComponent TypeID
	andFromSystem    TypeID

	matched  []matchedTable
	inactive []matchedTable

	period     float32
	timePassed float32
	enabled    bool
	timeSpent  float32

	jobs []job
}

// rowSystem is a reactive system fired per-entity on add, remove or set.
type rowSystem struct {
	entity     EntityID
	name       string
	signature  string
	kind       SystemKind
	action     SystemAction
	columns    []sigColumn
	components []EntityID
}

type triggerKey struct {
	kind SystemKind
	typ  TypeID
}

// NewSystem registers a system under the given kind. Phase kinds produce
// column systems matched against tables each frame; OnAdd, OnRemove and OnSet
// produce row systems fired by the corresponding operations. The signature is
// preserved verbatim for introspection.
func (w *World) NewSystem(name string, kind SystemKind, signature string, action SystemAction) (EntityID, error) {
	columns, err := parseSignature(w, signature)
	if err != nil {
		return 0, err
	}
	id := w.allocator.next()
	w.mainStage.entityIndex[id] = rowRecord{}
	if name != "" {
		if _, err := w.names.Register(name, id); err != nil {
			return 0, err
		}
	}

	if kind.reactive() {
		w.registerRowSystem(id, name, kind, signature, columns, action)
		return id, nil
	}
	if err := w.registerColSystem(id, name, kind, signature, columns, action); err != nil {
		return 0, err
	}
	return id, nil
}

func (w *World) registerRowSystem(id EntityID, name string, kind SystemKind, signature string, columns []sigColumn, action SystemAction) {
	components := make([]EntityID, 0, len(columns))
	for _, col := range columns {
		if col.oper != operOr && col.component != 0 {
			components = append(components, col.component)
		}
	}
	sys := &rowSystem{
		entity:     id,
		name:       name,
		signature:  signature,
		kind:       kind,
		action:     action,
		columns:    columns,
		components: components,
	}
	w.rowSystems[id] = sys
	w.rowSystemsByKind[kind-OnAdd] = append(w.rowSystemsByKind[kind-OnAdd], sys)
	w.triggerCache = make(map[triggerKey][]*rowSystem)
}

func (w *World) registerColSystem(id EntityID, name string, kind SystemKind, signature string, columns []sigColumn, action SystemAction) error {
	sys := &colSystem{
		entity:    id,
		name:      name,
		signature: signature,
		kind:      kind,
		action:    action,
		columns:   columns,
		masks:     buildColumnMasks(w, columns),
		enabled:   true,
	}
	if err := w.reduceFilters(sys); err != nil {
		return err
	}

	// auto-add SYSTEM. components to the system entity itself
	if sys.andFromSystem != 0 {
		if err := w.commitAdd(w.mainStage, id, w.types.typeOf(sys.andFromSystem)); err != nil {
			return err
		}
	}

	w.colSystems[id] = sys
	w.phases[kind] = append(w.phases[kind], sys)

	for _, tbl := range w.types.allTables() {
		w.matchSystemWithTable(sys, tbl)
	}
	w.invalidateSchedule()
	return nil
}

// reduceFilters computes the pre-reduced filter types of a column system.
func (w *World) reduceFilters(sys *colSystem) error {
	var andEntity, notEntity, notComponent, andSystem []EntityID
	for _, col := range sys.columns {
		switch {
		case col.kind == fromEntity && col.oper == operAnd:
			andEntity = append(andEntity, col.component)
		case col.kind == fromEntity && col.oper == operNot:
			notEntity = append(notEntity, col.component)
		case col.kind == fromSelf && col.oper == operNot:
			notComponent = append(notComponent, col.component)
		case col.kind == fromSystem && col.oper == operAnd:
			andSystem = append(andSystem, col.component)
		}
	}
	var err error
	if sys.andFromEntity, err = w.types.intern(w, andEntity); err != nil {
		return err
	}
	if sys.notFromEntity, err = w.types.intern(w, notEntity); err != nil {
		return err
	}
	if sys.notFromComponent, err = w.types.intern(w, notComponent); err != nil {
		return err
	}
	if sys.andFromSystem, err = w.types.intern(w, andSystem); err != nil {
		return err
	}
	return nil
}

// refFiltersPass evaluates the table-independent filters reduced from the
// signature: required components on named entities must be present, excluded
// ones absent. A failing filter rejects every table at once.
func (w *World) refFiltersPass(sys *colSystem) bool {
	for _, col := range sys.columns {
		if col.kind != fromEntity {
			continue
		}
		switch col.oper {
		case operAnd:
			if w.types.contains(sys.andFromEntity, col.component) && !w.hasComponent(col.source, col.component) {
				return false
			}
		case operNot:
			if w.types.contains(sys.notFromEntity, col.component) && w.hasComponent(col.source, col.component) {
				return false
			}
		}
	}
	return true
}

// matchSystemWithTable runs the matcher for one (system, table) pair and, on
// match, wires the adjacency both ways.
func (w *World) matchSystemWithTable(sys *colSystem, tbl *Table) {
	if !w.refFiltersPass(sys) {
		return
	}
	mt, ok := matchTable(w, sys.entity, sys.columns, sys.masks, tbl)
	if !ok {
		return
	}
	tbl.systems = append(tbl.systems, sys.entity)
	if tbl.Count() > 0 {
		sys.matched = append(sys.matched, mt)
	} else {
		sys.inactive = append(sys.inactive, mt)
	}
}

// matchTableWithSystems matches a newly created table against every column
// system.
func (w *World) matchTableWithSystems(tbl *Table) {
	for _, phase := range w.phases {
		for _, sys := range phase {
			w.matchSystemWithTable(sys, tbl)
		}
	}
}

// activateTable moves a table between the matched and inactive lists of every
// observing system when its row count transitions 0<->1.
func (w *World) activateTable(tbl *Table, active bool) {
	for _, sysID := range tbl.systems {
		sys, ok := w.colSystems[sysID]
		if !ok {
			continue
		}
		if active {
			moveMatched(&sys.inactive, &sys.matched, tbl.typ)
		} else {
			moveMatched(&sys.matched, &sys.inactive, tbl.typ)
		}
	}
	w.invalidateSchedule()
}

func moveMatched(from, to *[]matchedTable, typ TypeID) {
	for i, mt := range *from {
		if mt.typ == typ {
			*from = append((*from)[:i], (*from)[i+1:]...)
			*to = append(*to, mt)
			return
		}
	}
}

// SystemSignature returns the signature a system was created with, verbatim.
func (w *World) SystemSignature(system EntityID) (string, error) {
	if sys, ok := w.colSystems[system]; ok {
		return sys.signature, nil
	}
	if sys, ok := w.rowSystems[system]; ok {
		return sys.signature, nil
	}
	return "", InvalidHandleError{Entity: system}
}

// EnableSystem toggles a column system. Disabled systems are skipped by the
// frame loop.
func (w *World) EnableSystem(system EntityID, enabled bool) error {
	sys, ok := w.colSystems[system]
	if !ok {
		return InvalidHandleError{Entity: system}
	}
	sys.enabled = enabled
	return nil
}

// SetPeriod sets the minimum interval between invocations of a column system.
func (w *World) SetPeriod(system EntityID, period float32) error {
	sys, ok := w.colSystems[system]
	if !ok {
		return InvalidHandleError{Entity: system}
	}
	sys.period = period
	return nil
}

// periodGate accumulates delta time for periodic systems and decides whether
// the system runs this frame. Over elapsed time d with period p, a system is
// invoked floor(d/p) times.
func periodGate(sys *colSystem, delta float32) (float32, bool) {
	if sys.period <= 0 {
		return delta, true
	}
	sys.timePassed += delta
	if sys.timePassed < sys.period {
		return 0, false
	}
	sys.timePassed -= sys.period
	return sys.period, true
}

// progressSystem applies period accumulation and runs a column system over
// its active matched tables on the calling thread.
func (w *World) progressSystem(h Handle, sys *colSystem, delta float32) {
	if !sys.enabled {
		return
	}
	runDelta, ok := periodGate(sys, delta)
	if !ok {
		return
	}
	w.runSystemTables(h, sys, runDelta)
}

func (w *World) runSystemTables(h Handle, sys *colSystem, delta float32) {
	start := time.Time{}
	if w.measureSystemTime {
		start = time.Now()
	}
	if len(sys.columns) == 0 {
		// task system: one invocation per run, no table data
		rows := Rows{World: h, Delta: delta, System: sys.entity}
		sys.action(&rows)
	}
	for i := range sys.matched {
		mt := &sys.matched[i]
		w.invokeSystem(h, sys, mt, 0, mt.table.Count(), delta)
	}
	if w.measureSystemTime {
		sys.timeSpent += float32(time.Since(start).Seconds())
	}
}

// RunSystem runs a column system on demand with an explicit delta. This is
// how Manual systems are driven.
func (w *World) RunSystem(system EntityID, delta float32) error {
	sys, ok := w.colSystems[system]
	if !ok {
		return InvalidHandleError{Entity: system}
	}
	w.runSystemTables(w, sys, delta)
	return nil
}

// invokeSystem builds a rows view over [start, start+count) of a matched
// table and invokes the callback.
func (w *World) invokeSystem(h Handle, sys *colSystem, mt *matchedTable, start, count int, delta float32) {
	if count == 0 {
		return
	}
	rows := Rows{
		World:    h,
		Delta:    delta,
		System:   sys.entity,
		count:    count,
		entities: mt.table.entities[start : start+count],
		columns:  make([]rowsColumn, len(sys.columns)),
	}
	for i := range sys.columns {
		rows.columns[i] = w.resolveRowsColumn(sys.columns[i], mt, i, start)
	}
	sys.action(&rows)
}

// resolveRowsColumn turns a fetch descriptor into a base pointer + stride:
// positive descriptors address table columns (stride = component size),
// negative descriptors address refs (stride 0), 0 is an absent optional.
func (w *World) resolveRowsColumn(col sigColumn, mt *matchedTable, i, start int) rowsColumn {
	fetch := mt.fetch[i]
	switch {
	case fetch > 0:
		tableCol := fetch - 1
		c := &mt.table.columns[tableCol]
		rc := rowsColumn{id: mt.table.members[tableCol], stride: int(c.size)}
		if c.size > 0 {
			rc.base = c.data[start*int(c.size):]
		}
		return rc
	case fetch < 0:
		ref := mt.refs[-fetch-1]
		if ref.entity == 0 {
			// ID. columns carry the component id itself, no data
			return rowsColumn{id: ref.component}
		}
		return rowsColumn{id: ref.component, base: w.refData(ref), stride: 0}
	default:
		return rowsColumn{id: col.component}
	}
}

// rowTriggers returns the row systems of a kind matching a trigger type,
// memoized per (kind, type id).
func (w *World) rowTriggers(kind SystemKind, typ TypeID) []*rowSystem {
	key := triggerKey{kind: kind, typ: typ}
	if cached, ok := w.triggerCache[key]; ok {
		return cached
	}
	var out []*rowSystem
	for _, sys := range w.rowSystemsByKind[kind-OnAdd] {
		all := true
		for _, component := range sys.components {
			if !w.types.contains(typ, component) {
				all = false
				break
			}
		}
		if all && len(sys.components) > 0 {
			out = append(out, sys)
		}
	}
	w.triggerCache[key] = out
	return out
}

// notifyRowSystems fires the row systems of a kind for one entity. The entity
// must be resident in its destination table: OnAdd fires after the component
// exists, OnRemove before it is physically removed, OnSet after the write.
func (w *World) notifyRowSystems(h Handle, kind SystemKind, e EntityID, trigger TypeID) {
	systems := w.rowTriggers(kind, trigger)
	if len(systems) == 0 {
		return
	}
	record, ok := w.mainStage.entityIndex[e]
	if !ok {
		return
	}
	tbl := w.types.table(record.typ)
	if tbl == nil {
		return
	}
	for _, sys := range systems {
		rows := Rows{
			World:    h,
			System:   sys.entity,
			count:    1,
			entities: tbl.entities[record.row : record.row+1],
			columns:  make([]rowsColumn, len(sys.components)),
		}
		missing := false
		for i, component := range sys.components {
			colIdx, ok := tbl.columnIndex(component)
			if !ok {
				missing = true
				break
			}
			rows.columns[i] = rowsColumn{
				id:     component,
				base:   tbl.bytesAt(colIdx, record.row),
				stride: 0,
			}
		}
		if missing {
			slog.Debugf("row system %q skipped: component missing on entity %d", sys.name, e)
			continue
		}
		sys.action(&rows)
	}
}
