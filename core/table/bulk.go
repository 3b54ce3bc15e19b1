package table

import "github.com/galaxycdc/replicator/core/decode"

// BulkInserter is the sink's bulk-load handle (spec §4.4, §6): open once per
// batch, fed one column-set-then-WriteRow call per row, finalized with
// Commit or Rollback. Modeled on the ColumnStore bulk API referenced by
// _examples/original_source/replicator/src/table.hh — no Go binding for
// that driver exists in this pack, so the concrete implementation is left
// pluggable behind this interface (see core/table/columnstore for the
// reference implementation).
type BulkInserter interface {
	decode.BulkRow
	Commit() error
	Rollback() error
}

// BulkDriver opens a new BulkInserter for one table, mirroring
// createBulkInsert(db, table, 0, 0) from spec §4.4/§6.
type BulkDriver interface {
	CreateBulkInsert(database, table string) (BulkInserter, error)
}
