package decode

// BulkRow is the subset of a bulk-insert handle the BulkConverter needs.
// It mirrors the driver's setColumn/setNull/writeRow surface (spec §4.4,
// §6) without committing to a concrete bulk-insert driver.
type BulkRow interface {
	SetColumn(i int, v interface{}) error
	SetNull(i int) error
	WriteRow() error
}

// BulkConverter writes decoded columns directly into an open bulk-insert
// row, one call per column, then advances the bulk handle with WriteRow.
type BulkConverter struct {
	Row BulkRow
	err error
}

func NewBulkConverter(row BulkRow) *BulkConverter {
	return &BulkConverter{Row: row}
}

func (c *BulkConverter) SetNull(i int) {
	if c.err != nil {
		return
	}
	c.err = c.Row.SetNull(i)
}

func (c *BulkConverter) SetInt(i int, v int64) {
	if c.err != nil {
		return
	}
	c.err = c.Row.SetColumn(i, v)
}

func (c *BulkConverter) SetUint(i int, v uint64) {
	if c.err != nil {
		return
	}
	c.err = c.Row.SetColumn(i, v)
}

func (c *BulkConverter) SetString(i int, s string) {
	if c.err != nil {
		return
	}
	c.err = c.Row.SetColumn(i, s)
}

func (c *BulkConverter) SetDouble(i int, v float64) {
	if c.err != nil {
		return
	}
	c.err = c.Row.SetColumn(i, v)
}

func (c *BulkConverter) WriteRow() error {
	if c.err != nil {
		err := c.err
		c.err = nil
		return err
	}
	return c.Row.WriteRow()
}

// StringConverter accumulates one SQL-literal string per column: integers
// and floats unquoted, strings single-quoted, NULL rendered as the literal
// NULL. Each WriteRow call snapshots the current column slice into Rows and
// resets for the next row image — this is how TableProcessor collects
// before/after images for UPDATE/DELETE synthesis.
type StringConverter struct {
	cur  []string
	null []bool
	n    int
	Rows [][]string
	// NullFlags[r][i] reports whether column i of Rows[r] was SQL NULL —
	// needed because a NULL literal and a string literal spelling "NULL"
	// are otherwise indistinguishable once flattened to text.
	NullFlags [][]bool
}

func NewStringConverter(columnCount int) *StringConverter {
	return &StringConverter{
		cur:  make([]string, columnCount),
		null: make([]bool, columnCount),
		n:    columnCount,
	}
}

func (c *StringConverter) SetNull(i int) {
	c.cur[i] = "NULL"
	c.null[i] = true
}

func (c *StringConverter) SetInt(i int, v int64) {
	c.cur[i] = itoa(v)
	c.null[i] = false
}

func (c *StringConverter) SetUint(i int, v uint64) {
	c.cur[i] = utoa(v)
	c.null[i] = false
}

func (c *StringConverter) SetString(i int, s string) {
	c.cur[i] = quoteSQLString(s)
	c.null[i] = false
}

func (c *StringConverter) SetDouble(i int, v float64) {
	c.cur[i] = formatFloat(v)
	c.null[i] = false
}

// IsNull reports whether the column at i was set NULL in the row currently
// being accumulated (before the next WriteRow call).
func (c *StringConverter) IsNull(i int) bool {
	return c.null[i]
}

func (c *StringConverter) WriteRow() error {
	row := make([]string, c.n)
	copy(row, c.cur)
	c.Rows = append(c.Rows, row)

	null := make([]bool, c.n)
	copy(null, c.null)
	c.NullFlags = append(c.NullFlags, null)

	for i := range c.null {
		c.cur[i] = ""
		c.null[i] = false
	}
	return nil
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	pos := len(buf)
	for v > 0 {
		pos--
		buf[pos] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func utoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for v > 0 {
		pos--
		buf[pos] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[pos:])
}
