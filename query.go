package foreman

import (
	"github.com/TheBitDrifter/mask"
)

// systemRef is a resolved reference to a component on an external entity
// (container, prefab, singleton, system or named entity). Refs vary per
// table, never per row: each points at one entity shared by every row.
type systemRef struct {
	entity    EntityID
	component EntityID
}

// matchedTable records one table matched against a system signature. fetch
// holds one descriptor per signature column: a positive 1-based column index
// within the table, a negative index into refs, or 0 for an absent optional.
type matchedTable struct {
	typ   TypeID
	table *Table
	fetch []int
	refs  []systemRef
}

// columnMasks is the mask prefilter reduced from a signature: every AND
// self-column must be present, every NOT self-column must be absent.
type columnMasks struct {
	and mask.Mask
	not mask.Mask
}

func buildColumnMasks(w *World, columns []sigColumn) columnMasks {
	var cm columnMasks
	for _, col := range columns {
		if col.kind != fromSelf {
			continue
		}
		switch col.oper {
		case operAnd:
			cm.and.Mark(w.types.schema.rowIndexFor(col.component))
		case operNot:
			cm.not.Mark(w.types.schema.rowIndexFor(col.component))
		}
	}
	return cm
}

// matchTable decides whether a table satisfies a signature and, if so,
// resolves the per-column fetch descriptors. Matching is a pure function of
// the signature, the table's type id and the current refs resolution.
func matchTable(w *World, owner EntityID, columns []sigColumn, cm columnMasks, tbl *Table) (matchedTable, bool) {
	// zero-column signatures denote tasks; they match no tables at all
	if len(columns) == 0 {
		return matchedTable{}, false
	}
	tableMask := w.types.maskOf(tbl.typ)
	if !tableMask.ContainsAll(cm.and) || !tableMask.ContainsNone(cm.not) {
		return matchedTable{}, false
	}

	mt := matchedTable{typ: tbl.typ, table: tbl, fetch: make([]int, len(columns))}
	for i, col := range columns {
		ok := resolveColumn(w, owner, col, tbl, &mt, i)
		if !ok {
			return matchedTable{}, false
		}
	}
	return mt, true
}

func resolveColumn(w *World, owner EntityID, col sigColumn, tbl *Table, mt *matchedTable, i int) bool {
	switch col.oper {
	case operOr:
		// exactly one member of the union becomes the resolved column
		for _, member := range w.types.typeOf(col.orType) {
			if idx, ok := tbl.columnIndex(member); ok {
				mt.fetch[i] = idx + 1
				return true
			}
		}
		return false
	case operNot:
		present, _ := columnPresence(w, owner, col, tbl)
		return !present
	case operOptional:
		present, fetch := columnPresence(w, owner, col, tbl)
		if present {
			mt.fetch[i] = commitFetch(mt, fetch)
		}
		return true
	default: // operAnd
		present, fetch := columnPresence(w, owner, col, tbl)
		if !present {
			return false
		}
		mt.fetch[i] = commitFetch(mt, fetch)
		return true
	}
}

// pendingFetch is an unresolved fetch descriptor: either a table column or a
// ref that still needs appending to the matched table's refs array.
type pendingFetch struct {
	columnIndex int
	ref         *systemRef
}

func commitFetch(mt *matchedTable, f pendingFetch) int {
	if f.ref != nil {
		mt.refs = append(mt.refs, *f.ref)
		return -len(mt.refs)
	}
	return f.columnIndex + 1
}

// columnPresence tests a single column against a table and produces the
// fetch source when present.
func columnPresence(w *World, owner EntityID, col sigColumn, tbl *Table) (bool, pendingFetch) {
	switch col.kind {
	case fromSelf:
		idx, ok := tbl.columnIndex(col.component)
		return ok, pendingFetch{columnIndex: idx}
	case fromEntity:
		return refPresence(w, col.source, col.component)
	case fromSingleton:
		return refPresence(w, w.singleton, col.component)
	case fromSystem:
		return refPresence(w, owner, col.component)
	case fromContainer:
		// containers and prefabs are part of the entity type; scan the
		// table's non-component members for one that owns the component
		for _, member := range tbl.members {
			if w.descriptors.isComponent(member) {
				continue
			}
			if ok, f := refPresence(w, member, col.component); ok {
				return true, f
			}
		}
		return false, pendingFetch{}
	case fromID:
		// id columns carry no data; the rows view hands back the id itself
		return true, pendingFetch{ref: &systemRef{component: col.component}}
	}
	return false, pendingFetch{}
}

func refPresence(w *World, owner EntityID, component EntityID) (bool, pendingFetch) {
	if !w.hasComponent(owner, component) {
		return false, pendingFetch{}
	}
	return true, pendingFetch{ref: &systemRef{entity: owner, component: component}}
}

// hasComponent reports whether an entity currently owns a component in the
// main stage. Matching always runs outside parallel regions.
func (w *World) hasComponent(e EntityID, component EntityID) bool {
	record, ok := w.mainStage.entityIndex[e]
	if !ok {
		return false
	}
	return w.types.contains(record.typ, component)
}

// refData resolves the live bytes behind a ref. Resolution happens at
// invocation time so table growth can never leave stale pointers behind.
func (w *World) refData(ref systemRef) []byte {
	if ref.entity == 0 {
		return nil
	}
	record, ok := w.mainStage.entityIndex[ref.entity]
	if !ok {
		return nil
	}
	tbl := w.types.table(record.typ)
	if tbl == nil {
		return nil
	}
	col, ok := tbl.columnIndex(ref.component)
	if !ok || tbl.columns[col].size == 0 {
		return nil
	}
	return tbl.bytesAt(col, record.row)
}
