// Package columnstore is a reference BulkDriver: it batches SetColumn/
// SetNull/WriteRow calls into a single multi-row INSERT, executed on
// Commit. It exists because this pack carries no Go binding for
// ColumnStore's mcsapi bulk-insert driver
// (_examples/original_source/replicator/src/table.hh); the bulk-insert
// lifecycle it implements — open, write rows, commit or rollback — mirrors
// mcsapi::ColumnStoreBulkInsert's shape one for one.
package columnstore

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"github.com/galaxycdc/replicator/core/conn"
	"github.com/galaxycdc/replicator/core/table"
	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// Driver opens bulk inserts against a single sink server descriptor. One
// Driver is shared by every TableProcessor in a Replicator.
type Driver struct {
	sink galaxy.ServerDescriptor
}

// New constructs a Driver targeting sink.
func New(sink galaxy.ServerDescriptor) *Driver {
	return &Driver{sink: sink}
}

// CreateBulkInsert opens a connection and a pending multi-row insert for
// database.table, mirroring mcsapi's createBulkInsert(db, table, 0, 0).
func (d *Driver) CreateBulkInsert(database, tbl string) (table.BulkInserter, error) {
	c, err := conn.Connect([]galaxy.ServerDescriptor{d.sink})
	if err != nil {
		return nil, err
	}
	rows, err := c.Fetch(fmt.Sprintf("SHOW FULL COLUMNS FROM `%s`.`%s`", database, tbl))
	if err != nil {
		c.Close()
		return nil, err
	}
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 {
			cols = append(cols, r[0])
		}
	}
	return &bulkInsert{
		sql:      c,
		database: database,
		table:    tbl,
		columns:  cols,
		values:   make([]string, len(cols)),
	}, nil
}

// bulkInsert accumulates row values in memory and flushes them as one
// multi-row INSERT on Commit, matching mcsapi's "buffered until commit"
// semantics without the C driver's columnar wire format.
type bulkInsert struct {
	sql      *conn.Connection
	database string
	table    string
	columns  []string
	values   []string
	rows     []string
	err      error
}

func (b *bulkInsert) SetColumn(i int, v interface{}) error {
	if i < 0 || i >= len(b.values) {
		return fmt.Errorf("columnstore: column index %d out of range", i)
	}
	b.values[i] = literal(v)
	return nil
}

func (b *bulkInsert) SetNull(i int) error {
	if i < 0 || i >= len(b.values) {
		return fmt.Errorf("columnstore: column index %d out of range", i)
	}
	b.values[i] = "NULL"
	return nil
}

func (b *bulkInsert) WriteRow() error {
	row := "(" + strings.Join(b.values, ",") + ")"
	b.rows = append(b.rows, row)
	b.values = make([]string, len(b.columns))
	return nil
}

// Commit flushes every buffered row as a single INSERT and releases the
// connection.
func (b *bulkInsert) Commit() error {
	defer b.sql.Close()
	if len(b.rows) == 0 {
		return nil
	}
	quoted := make([]string, len(b.columns))
	for i, c := range b.columns {
		quoted[i] = "`" + c + "`"
	}
	stmt := fmt.Sprintf("INSERT INTO `%s`.`%s` (%s) VALUES %s",
		b.database, b.table, strings.Join(quoted, ","), strings.Join(b.rows, ","))
	if err := b.sql.Query(stmt); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Rollback discards buffered rows without touching the sink.
func (b *bulkInsert) Rollback() error {
	b.rows = nil
	b.sql.Close()
	return nil
}

func literal(v interface{}) string {
	switch t := v.(type) {
	case string:
		return quoteSQLString(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case uint64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return quoteSQLString(fmt.Sprintf("%v", t))
	}
}

func quoteSQLString(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			sb.WriteString("''")
		case '\\':
			sb.WriteString("\\\\")
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
