package foreman

// cursorLockBit guards storage against structural mutation while a cursor
// iterates.
const cursorLockBit uint32 = 0

// Cursor provides ad-hoc iteration over entities matching a signature,
// without registering a system. Matching reuses the system matcher, so the
// full operator set (AND, OR, NOT, OPTIONAL) is available.
type Cursor struct {
	world   *World
	columns []sigColumn
	masks   columnMasks

	matched  []matchedTable
	tableIdx int
	row      int

	initialized bool
}

// NewCursor parses a signature and returns a cursor over the matching tables.
func (w *World) NewCursor(signature string) (*Cursor, error) {
	columns, err := parseSignature(w, signature)
	if err != nil {
		return nil, err
	}
	return &Cursor{
		world:   w,
		columns: columns,
		masks:   buildColumnMasks(w, columns),
		row:     -1,
	}, nil
}

// Next advances to the next entity and returns whether one exists. The
// storage is locked for the duration of the iteration and unlocked when the
// cursor is exhausted or Reset.
func (c *Cursor) Next() bool {
	if !c.initialized {
		c.initialize()
	}
	c.row++
	for c.tableIdx < len(c.matched) {
		if c.row < c.matched[c.tableIdx].table.Count() {
			return true
		}
		c.tableIdx++
		c.row = 0
	}
	c.Reset()
	return false
}

func (c *Cursor) initialize() {
	c.world.AddLock(cursorLockBit)
	c.matched = nil
	for _, tbl := range c.world.types.allTables() {
		if tbl.Count() == 0 {
			continue
		}
		if mt, ok := matchTable(c.world, 0, c.columns, c.masks, tbl); ok {
			c.matched = append(c.matched, mt)
		}
	}
	c.tableIdx = 0
	c.initialized = true
}

// Reset clears iteration state and releases the storage lock.
func (c *Cursor) Reset() {
	c.matched = nil
	c.tableIdx = 0
	c.row = -1
	if c.initialized {
		c.world.RemoveLock(cursorLockBit)
		c.initialized = false
	}
}

// Entity returns the entity id at the cursor position.
func (c *Cursor) Entity() EntityID {
	return c.matched[c.tableIdx].table.entities[c.row]
}

// Column returns the component bytes of a signature column at the cursor
// position. Refs resolve to the external entity's bytes; absent optionals
// return nil.
func (c *Cursor) Column(col int) []byte {
	mt := &c.matched[c.tableIdx]
	fetch := mt.fetch[col]
	switch {
	case fetch > 0:
		tableCol := fetch - 1
		if mt.table.columns[tableCol].size == 0 {
			return nil
		}
		return mt.table.bytesAt(tableCol, int32(c.row))
	case fetch < 0:
		return c.world.refData(mt.refs[-fetch-1])
	default:
		return nil
	}
}

// TotalMatched returns the number of entities matching the signature.
func (c *Cursor) TotalMatched() int {
	if !c.initialized {
		c.initialize()
	}
	total := 0
	for i := range c.matched {
		total += c.matched[i].table.Count()
	}
	c.Reset()
	return total
}
