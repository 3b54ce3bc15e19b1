// Package table implements TableProcessor (spec §4.4): the concrete
// Processor that applies one table's stream of row events to the sink,
// opening a bulk insert for WRITE_ROWS or falling back to SQL statements
// for DELETE_ROWS/UPDATE_ROWS.
package table

import (
	"fmt"
	"strings"
	"time"

	"github.com/pingcap/errors"

	"github.com/galaxycdc/replicator/core/conn"
	"github.com/galaxycdc/replicator/core/decode"
	"github.com/galaxycdc/replicator/core/processor"
	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// TableProcessor owns its queue, its sink Connection (if any), its
// bulk-insert handle, and its TableMap copy — none of it shared with any
// other TableProcessor or with the Replicator.
type TableProcessor struct {
	*processor.Processor

	database string
	table    string
	mode     galaxy.Mode
	sink     galaxy.ServerDescriptor
	driver   BulkDriver

	tableMap *decode.TableMap

	sql        *conn.Connection
	bulk       BulkInserter
	Descriptor *galaxy.TableDescriptor
	descStale  bool
}

// New constructs and starts a TableProcessor for one table. tableMap is the
// snapshot taken from the TABLE_MAP event that introduced this table id.
func New(database, table string, tableMap *decode.TableMap, mode galaxy.Mode, sink galaxy.ServerDescriptor, driver BulkDriver, flush time.Duration) *TableProcessor {
	tp := &TableProcessor{
		database: database,
		table:    table,
		mode:     mode,
		sink:     sink,
		driver:   driver,
		tableMap: tableMap,
	}
	tp.Processor = processor.New(tp, flush)
	return tp
}

// InvalidateSchema marks the cached TableDescriptor stale, forcing a fresh
// DESCRIBE on next use (spec §4.4: "on first use and after DDL").
func (t *TableProcessor) InvalidateSchema() {
	t.descStale = true
}

// NeedsSchemaRefresh reports whether the next row/DML will re-DESCRIBE
// the table instead of using the cached Descriptor.
func (t *TableProcessor) NeedsSchemaRefresh() bool {
	return t.descStale || t.Descriptor == nil
}

// StartTransaction is a no-op: a bulk-insert or SQL transaction is opened
// lazily on first row (spec §4.4).
func (t *TableProcessor) StartTransaction() error {
	return nil
}

func (t *TableProcessor) ensureDescriptor() error {
	if t.Descriptor != nil && !t.descStale {
		return nil
	}
	if err := t.ensureSQL(); err != nil {
		return err
	}
	rows, err := t.sql.Fetch(fmt.Sprintf("SHOW FULL COLUMNS FROM `%s`.`%s`", t.database, t.table))
	if err != nil {
		return err
	}
	desc := &galaxy.TableDescriptor{Database: t.database, Table: t.table}
	for _, r := range rows {
		if len(r) < 9 {
			continue
		}
		desc.Columns = append(desc.Columns, galaxy.ColumnSchema{
			Field: r[0], Type: r[1], Collation: r[2], Null: r[3],
			Key: r[4], Default: r[5], Extra: r[6], Privileges: r[7], Comment: r[8],
		})
	}
	t.Descriptor = desc
	t.descStale = false
	return nil
}

func (t *TableProcessor) ensureSQL() error {
	if t.sql != nil {
		return nil
	}
	c, err := conn.Connect([]galaxy.ServerDescriptor{t.sink})
	if err != nil {
		return err
	}
	t.sql = c
	return nil
}

func (t *TableProcessor) ensureBulk() error {
	if t.bulk != nil {
		return nil
	}
	b, err := t.driver.CreateBulkInsert(t.database, t.table)
	if err != nil {
		return errors.WithStack(err)
	}
	t.bulk = b
	return nil
}

// closeBulkBeforeDML commits and closes any open bulk handle so the sink's
// table-level lock is released before issuing DELETE/UPDATE (spec §4.4).
func (t *TableProcessor) closeBulkBeforeDML() error {
	if t.bulk == nil {
		return nil
	}
	b := t.bulk
	t.bulk = nil
	return b.Commit()
}

// Process applies one drained batch of RowEvents (spec §4.4).
func (t *TableProcessor) Process(batch []interface{}) error {
	if err := t.ensureDescriptor(); err != nil {
		return err
	}

	var stmts []string
	for _, raw := range batch {
		ev, ok := raw.(*RowEvent)
		if !ok {
			continue
		}
		switch ev.Kind {
		case Insert:
			if err := t.processInsert(ev); err != nil {
				return err
			}
		case Delete:
			if t.mode == galaxy.ModeTransform {
				if err := t.processInsert(&RowEvent{Present: ev.Present, RowData: ev.RowData}); err != nil {
					return err
				}
				continue
			}
			rowStmts, err := t.synthesizeDelete(ev)
			if err != nil {
				return err
			}
			stmts = append(stmts, rowStmts...)
		case Update:
			if t.mode == galaxy.ModeTransform {
				if err := t.processUpdateAsInsert(ev); err != nil {
					return err
				}
				continue
			}
			rowStmts, err := t.synthesizeUpdate(ev)
			if err != nil {
				return err
			}
			stmts = append(stmts, rowStmts...)
		}
	}

	if len(stmts) == 0 {
		return nil
	}
	if err := t.closeBulkBeforeDML(); err != nil {
		return err
	}
	if err := t.ensureSQL(); err != nil {
		return err
	}
	full := make([]string, 0, len(stmts)+2)
	full = append(full, "BEGIN")
	full = append(full, stmts...)
	full = append(full, "COMMIT")
	return t.sql.QueryAll(full)
}

func (t *TableProcessor) processInsert(ev *RowEvent) error {
	if err := t.ensureBulk(); err != nil {
		return err
	}
	conv := decode.NewBulkConverter(&bulkRowAdapter{bulk: t.bulk})
	return decode.DecodeRows(t.tableMap, ev.Present, ev.RowData, conv)
}

// processUpdateAsInsert decodes only the after image of an UPDATE event and
// appends it through the bulk path, for TRANSFORM mode's append-only
// semantics.
func (t *TableProcessor) processUpdateAsInsert(ev *RowEvent) error {
	if err := t.ensureBulk(); err != nil {
		return err
	}
	discard := decode.NewStringConverter(t.tableMap.ColumnCount())
	conv := decode.NewBulkConverter(&bulkRowAdapter{bulk: t.bulk})
	return decode.DecodeUpdateRows(t.tableMap, ev.Present, ev.Update, ev.RowData, discard, conv)
}

func (t *TableProcessor) synthesizeDelete(ev *RowEvent) ([]string, error) {
	sc := decode.NewStringConverter(t.tableMap.ColumnCount())
	if err := decode.DecodeRows(t.tableMap, ev.Present, ev.RowData, sc); err != nil {
		return nil, err
	}
	var stmts []string
	for r, row := range sc.Rows {
		cond := t.whereClause(row, sc.NullFlags[r])
		stmts = append(stmts, fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE %s LIMIT 1", t.database, t.table, cond))
	}
	return stmts, nil
}

func (t *TableProcessor) synthesizeUpdate(ev *RowEvent) ([]string, error) {
	before := decode.NewStringConverter(t.tableMap.ColumnCount())
	after := decode.NewStringConverter(t.tableMap.ColumnCount())
	if err := decode.DecodeUpdateRows(t.tableMap, ev.Present, ev.Update, ev.RowData, before, after); err != nil {
		return nil, err
	}
	var stmts []string
	for r := range before.Rows {
		cond := t.whereClause(before.Rows[r], before.NullFlags[r])
		set := t.setClause(after.Rows[r], ev.Update)
		stmts = append(stmts, fmt.Sprintf("UPDATE `%s`.`%s` SET %s WHERE %s LIMIT 1", t.database, t.table, set, cond))
	}
	return stmts, nil
}

func (t *TableProcessor) whereClause(row []string, nulls []bool) string {
	cols := t.Descriptor.Columns
	conds := make([]string, 0, len(row))
	for i := 0; i < len(row) && i < len(cols); i++ {
		op := "="
		if nulls[i] {
			op = "IS"
		}
		conds = append(conds, fmt.Sprintf("`%s` %s %s", cols[i].Field, op, row[i]))
	}
	return strings.Join(conds, " AND ")
}

// setClause builds the SET list from the after image, skipping columns the
// after-image bitmap does not carry (e.g. a MINIMAL row image that only
// includes changed columns).
func (t *TableProcessor) setClause(row []string, updateBitmap []byte) string {
	cols := t.Descriptor.Columns
	sets := make([]string, 0, len(row))
	for i := 0; i < len(row) && i < len(cols); i++ {
		if !bitSet(updateBitmap, i) {
			continue
		}
		sets = append(sets, fmt.Sprintf("`%s` = %s", cols[i].Field, row[i]))
	}
	return strings.Join(sets, ", ")
}

// bitSet reports whether bit i of a little-endian column bitmap is set.
func bitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<(uint(i)%8)) != 0
}

// CommitTransaction commits and closes the open bulk handle, if any;
// otherwise it does nothing — SQL-mode DML already committed inline as
// part of Process (spec §4.4).
func (t *TableProcessor) CommitTransaction() error {
	if t.bulk == nil {
		return nil
	}
	b := t.bulk
	t.bulk = nil
	return b.Commit()
}

// RollbackTransaction rolls back and closes the open bulk handle, if any,
// swallowing driver errors (spec §4.4).
func (t *TableProcessor) RollbackTransaction() {
	if t.bulk == nil {
		return
	}
	b := t.bulk
	t.bulk = nil
	_ = b.Rollback()
}

// Close releases the worker and any open sink connections.
func (t *TableProcessor) Close() {
	t.Processor.Close()
	if t.bulk != nil {
		_ = t.bulk.Rollback()
		t.bulk = nil
	}
	if t.sql != nil {
		t.sql.Close()
		t.sql = nil
	}
}

// bulkRowAdapter adapts a BulkInserter to decode.BulkRow.
type bulkRowAdapter struct {
	bulk BulkInserter
}

func (a *bulkRowAdapter) SetColumn(i int, v interface{}) error { return a.bulk.SetColumn(i, v) }
func (a *bulkRowAdapter) SetNull(i int) error                  { return a.bulk.SetNull(i) }
func (a *bulkRowAdapter) WriteRow() error                      { return a.bulk.WriteRow() }
