package table

// Kind is the row-event variant a TableProcessor was enqueued.
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

// RowEvent is the per-table unit TableProcessor.Enqueue accepts — the
// table-filtered, already-routed form of spec §3's WRITE_ROWS/UPDATE_ROWS/
// DELETE_ROWS event variants. Ownership transfers from the Replicator to
// the TableProcessor's queue on enqueue; the Replicator holds no reference
// afterward.
type RowEvent struct {
	Kind Kind
	// Present is the column-present bitmap. For Insert/Delete it selects
	// the single row image in RowData; for Update it selects the before
	// image.
	Present []byte
	// Update is the column-update bitmap selecting the after image of an
	// Update event. Unused for Insert/Delete.
	Update []byte
	// RowData is the raw row-image payload: one image per row for
	// Insert/Delete, alternating before/after images per row for Update.
	RowData []byte
}
