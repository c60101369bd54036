package foreman

// column is one component's densely packed storage within a table.
type column struct {
	data []byte
	size uint32
}

// Table is the columnar storage for all entities sharing one type id. Row
// count is identical across all columns; a parallel entity-id column maps row
// indices back to entities.
type Table struct {
	typ      TypeID
	members  []EntityID
	columns  []column
	entities []EntityID
	prefab   EntityID

	// column systems observing this table, notified on 0<->1 row transitions
	systems []EntityID

	// row-move event published when a delete swaps the last row into the
	// deleted slot; the consumer rewrites the entity index before the row
	// count is decremented
	onMove func(moved EntityID, newRow int32)
}

func newTable(w *World, t TypeID, members []EntityID) (*Table, error) {
	tbl := &Table{
		typ:     t,
		members: members,
		columns: make([]column, len(members)),
	}
	for i, member := range members {
		if info, ok := w.descriptors.components[member]; ok {
			tbl.columns[i] = column{size: info.size}
			continue
		}
		if w.descriptors.isPrefab(member) {
			if tbl.prefab != 0 {
				return nil, ConflictingStateError{Msg: "table already has a prefab"}
			}
			tbl.prefab = member
			continue
		}
		return nil, InvalidTypeError{ID: member}
	}
	tbl.onMove = func(moved EntityID, newRow int32) {
		w.mainStage.entityIndex[moved] = rowRecord{typ: t, row: newRow}
	}
	return tbl, nil
}

// Type returns the table's type id.
func (t *Table) Type() TypeID { return t.typ }

// Count returns the number of rows.
func (t *Table) Count() int { return len(t.entities) }

// insert appends an entity with zero-filled component columns and returns its
// row. The 0->1 transition flips the table active in every observing system.
func (t *Table) insert(w *World, e EntityID) int32 {
	row := len(t.entities)
	t.entities = append(t.entities, e)
	for i := range t.columns {
		col := &t.columns[i]
		if col.size == 0 {
			continue
		}
		col.data = append(col.data, make([]byte, col.size)...)
	}
	if row == 0 {
		w.activateTable(t, true)
	}
	return int32(row)
}

// delete swaps the last row into the deleted slot and publishes the row-move
// event before decrementing the count. The 1->0 transition flips the table
// inactive in every observing system.
func (t *Table) delete(w *World, row int32) {
	last := int32(len(t.entities) - 1)
	if row != last {
		moved := t.entities[last]
		t.entities[row] = moved
		for i := range t.columns {
			col := &t.columns[i]
			if col.size == 0 {
				continue
			}
			size := int32(col.size)
			copy(col.data[row*size:(row+1)*size], col.data[last*size:(last+1)*size])
		}
		t.onMove(moved, row)
	}
	t.entities = t.entities[:last]
	for i := range t.columns {
		col := &t.columns[i]
		if col.size == 0 {
			continue
		}
		col.data = col.data[:int(last)*int(col.size)]
	}
	if last == 0 {
		w.activateTable(t, false)
	}
}

// columnIndex returns the column position of a component within the table.
func (t *Table) columnIndex(component EntityID) (int, bool) {
	for i, member := range t.members {
		if member == component {
			return i, true
		}
	}
	return 0, false
}

// bytesAt returns the component bytes stored at (column, row).
func (t *Table) bytesAt(col int, row int32) []byte {
	c := &t.columns[col]
	size := int32(c.size)
	return c.data[row*size : (row+1)*size]
}

// moveRowTo copies a row into another table: components present in both keep
// their bytes, dropped components lose theirs, added components are
// zero-filled. A move between identical tables is a no-op.
func (t *Table) moveRowTo(w *World, dst *Table, row int32) int32 {
	if dst == t {
		return row
	}
	newRow := dst.insert(w, t.entities[row])
	for dstCol, member := range dst.members {
		if dst.columns[dstCol].size == 0 {
			continue
		}
		srcCol, ok := t.columnIndex(member)
		if !ok {
			continue
		}
		copy(dst.bytesAt(dstCol, newRow), t.bytesAt(srcCol, row))
	}
	t.delete(w, row)
	return newRow
}
