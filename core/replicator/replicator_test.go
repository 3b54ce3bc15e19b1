package replicator

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/galaxycdc/replicator/core/decode"
	"github.com/galaxycdc/replicator/core/processor"
	"github.com/galaxycdc/replicator/core/table"
	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// fakeBulk/fakeDriver mirror core/table's own test fakes: a BulkInserter
// that records every written row instead of talking to a sink.
type fakeBulk struct {
	cols      []interface{}
	rows      [][]interface{}
	n         int
	committed bool
}

func newFakeBulk(n int) *fakeBulk { return &fakeBulk{n: n, cols: make([]interface{}, n)} }

func (b *fakeBulk) SetColumn(i int, v interface{}) error { b.cols[i] = v; return nil }
func (b *fakeBulk) SetNull(i int) error                  { b.cols[i] = nil; return nil }
func (b *fakeBulk) WriteRow() error {
	row := make([]interface{}, b.n)
	copy(row, b.cols)
	b.rows = append(b.rows, row)
	b.cols = make([]interface{}, b.n)
	return nil
}
func (b *fakeBulk) Commit() error   { b.committed = true; return nil }
func (b *fakeBulk) Rollback() error { return nil }

type fakeDriver struct {
	opened []string // "database.table" in call order
	last   *fakeBulk
}

func (d *fakeDriver) CreateBulkInsert(database, tbl string) (table.BulkInserter, error) {
	d.opened = append(d.opened, database+"."+tbl)
	d.last = newFakeBulk(1)
	return d.last, nil
}

// fakeNotifier/fakeMetrics record every call Replicator makes against the
// two observation-point interfaces (SPEC_FULL §4.6).
type fakeNotifier struct {
	published []string // "taskID/gtid"
	fail      bool
}

func (n *fakeNotifier) Publish(taskID, gtid string) error {
	n.published = append(n.published, taskID+"/"+gtid)
	if n.fail {
		return errTest
	}
	return nil
}

var errTest = fakeErr("notifier unavailable")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeMetrics struct {
	commits    []string
	reconnects int
	procErrors []string
}

func (m *fakeMetrics) ObserveCommit(taskID, gtid string) { m.commits = append(m.commits, taskID+"/"+gtid) }
func (m *fakeMetrics) ObserveReconnect(taskID string)    { m.reconnects++ }
func (m *fakeMetrics) ObserveProcessorError(taskID, database, tbl string) {
	m.procErrors = append(m.procErrors, database+"."+tbl)
}

func newTestReplicator(cnf galaxy.Config, drv table.BulkDriver, n Notifier, m Metrics) *Replicator {
	r := New(cnf, drv, n, m)
	return r
}

// --- wire-level fixtures -----------------------------------------------

// buildTableMapBody encodes the body parseTableMap expects: table id,
// flags, schema name, table name, column-type array, metadata block.
func buildTableMapBody(tableID uint64, schema, tbl string, colTypes []byte, meta []byte) []byte {
	var buf []byte
	idBytes := make([]byte, tableIDSize)
	for i := 0; i < tableIDSize; i++ {
		idBytes[i] = byte(tableID >> (8 * i))
	}
	buf = append(buf, idBytes...)
	buf = append(buf, 0, 0) // flags
	buf = append(buf, byte(len(schema)))
	buf = append(buf, []byte(schema)...)
	buf = append(buf, 0x00)
	buf = append(buf, byte(len(tbl)))
	buf = append(buf, []byte(tbl)...)
	buf = append(buf, 0x00)
	buf = append(buf, byte(len(colTypes))) // column count, lenenc < 0xfb
	buf = append(buf, colTypes...)
	buf = append(buf, byte(len(meta)))
	buf = append(buf, meta...)
	return buf
}

// buildRowsBody encodes the body parseRowsEvent expects for a non-v2,
// non-update event: table id, flags, column count, present bitmap, rows.
func buildRowsBody(tableID uint64, colCount int, present []byte, rowData []byte) []byte {
	var buf []byte
	idBytes := make([]byte, tableIDSize)
	for i := 0; i < tableIDSize; i++ {
		idBytes[i] = byte(tableID >> (8 * i))
	}
	buf = append(buf, idBytes...)
	buf = append(buf, 0, 0) // flags
	buf = append(buf, byte(colCount))
	buf = append(buf, present...)
	buf = append(buf, rowData...)
	return buf
}

func wrapEvent(eventType replication.EventType, body []byte) *replication.BinlogEvent {
	raw := make([]byte, commonHeaderSize+len(body))
	copy(raw[commonHeaderSize:], body)
	return &replication.BinlogEvent{
		RawData: raw,
		Header:  &replication.EventHeader{EventType: eventType},
	}
}

// --- scenario 1: single insert commits one row, durable GTID advances --

func TestReplicator_TableMapThenInsertThenXID_CommitsAndAdvancesDurable(t *testing.T) {
	drv := &fakeDriver{}
	notify := &fakeNotifier{}
	met := &fakeMetrics{}
	r := newTestReplicator(galaxy.Config{TaskID: "t1"}, drv, notify, met)

	tmBody := buildTableMapBody(7, "s", "orders", []byte{decode.TypeLong}, []byte{0})
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, tmBody)); err != nil {
		t.Fatalf("table map dispatch: %v", err)
	}
	tp, ok := r.tables[7]
	if !ok || tp == nil {
		t.Fatalf("expected table 7 registered, got %v", r.tables)
	}
	tp.Descriptor = &galaxy.TableDescriptor{Database: "s", Table: "orders", Columns: []galaxy.ColumnSchema{{Field: "id"}}}

	row := []byte{0x00, 42, 0, 0, 0} // null bitmap=0, id=42
	rowsBody := buildRowsBody(7, 1, []byte{0x01}, row)
	if err := r.dispatch(wrapEvent(replication.WRITE_ROWS_EVENTv1, rowsBody)); err != nil {
		t.Fatalf("rows dispatch: %v", err)
	}

	r.currentGTID = "0-1-100"
	if err := r.dispatch(wrapEvent(replication.XID_EVENT, nil)); err != nil {
		t.Fatalf("xid dispatch: %v", err)
	}

	if drv.last == nil || len(drv.last.rows) != 1 {
		t.Fatalf("expected exactly one bulk row written, got %v", drv.last)
	}
	if !drv.last.committed {
		t.Errorf("expected the bulk handle to be committed")
	}
	if got := r.GTID(); got != "0-1-100" {
		t.Errorf("durable GTID = %q, want 0-1-100", got)
	}
	if len(met.commits) != 1 || met.commits[0] != "t1/0-1-100" {
		t.Errorf("metrics.commits = %v", met.commits)
	}
	if len(notify.published) != 1 || notify.published[0] != "t1/0-1-100" {
		t.Errorf("notifier.published = %v", notify.published)
	}
}

// --- scenario 4: a processor failure during XID leaves durable untouched

func TestReplicator_CommitAllFailure_LeavesDurableUntouchedAndReportsProcessorError(t *testing.T) {
	drv := &fakeDriver{}
	met := &fakeMetrics{}
	r := newTestReplicator(galaxy.Config{TaskID: "t1", GTID: "0-1-50"}, drv, nil, met)

	// A TableProcessor with no registered Descriptor and a bulk driver
	// that can be forced to fail would need more plumbing than this level
	// of test needs; instead exercise the same code path with a
	// processor that is already in ERROR state by feeding it an
	// unparseable row image.
	tmBody := buildTableMapBody(9, "s", "broken", []byte{decode.TypeLong}, []byte{0})
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, tmBody)); err != nil {
		t.Fatalf("table map dispatch: %v", err)
	}
	tp := r.tables[9]
	tp.Descriptor = &galaxy.TableDescriptor{Database: "s", Table: "broken", Columns: []galaxy.ColumnSchema{{Field: "id"}}}

	// RowData shorter than the null bitmap + one column claims: forces
	// TableProcessor.Process to fail and the Processor to transition to
	// ERROR, which Commit() surfaces as false.
	badRow := []byte{0x00}
	rowsBody := buildRowsBody(9, 1, []byte{0x01}, badRow)
	if err := r.dispatch(wrapEvent(replication.WRITE_ROWS_EVENTv1, rowsBody)); err != nil {
		t.Fatalf("rows dispatch: %v", err)
	}

	r.currentGTID = "0-1-999"
	if err := r.dispatch(wrapEvent(replication.XID_EVENT, nil)); err == nil {
		t.Fatalf("expected commitAll to fail for a broken table processor")
	}

	if got := r.GTID(); got != "0-1-50" {
		t.Errorf("durable GTID advanced despite failure: got %q, want 0-1-50", got)
	}
	if len(met.procErrors) != 1 || met.procErrors[0] != "s.broken" {
		t.Errorf("metrics.procErrors = %v", met.procErrors)
	}
}

// --- scenario 5: table filtering drops events for unmatched tables -----

func TestReplicator_TableFilter_DropsUnmatchedTable(t *testing.T) {
	drv := &fakeDriver{}
	r := newTestReplicator(galaxy.Config{
		TaskID: "t1",
		Tables: map[string]struct{}{"s.kept": {}},
	}, drv, nil, nil)

	keptBody := buildTableMapBody(1, "s", "kept", []byte{decode.TypeLong}, []byte{0})
	droppedBody := buildTableMapBody(2, "s", "dropped", []byte{decode.TypeLong}, []byte{0})
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, keptBody)); err != nil {
		t.Fatalf("kept table map: %v", err)
	}
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, droppedBody)); err != nil {
		t.Fatalf("dropped table map: %v", err)
	}

	if tp := r.tables[1]; tp == nil {
		t.Errorf("expected table 1 (kept) to have a live TableProcessor")
	}
	tp, registered := r.tables[2]
	if !registered {
		t.Fatalf("expected table 2 (dropped) to be registered as filtered-out")
	}
	if tp != nil {
		t.Errorf("expected table 2's TableProcessor slot to be nil (filtered)")
	}

	row := []byte{0x00, 1, 0, 0, 0}
	droppedRows := buildRowsBody(2, 1, []byte{0x01}, row)
	if err := r.dispatch(wrapEvent(replication.WRITE_ROWS_EVENTv1, droppedRows)); err != nil {
		t.Fatalf("dropped rows dispatch: %v", err)
	}
	if len(drv.opened) != 0 {
		t.Errorf("expected no bulk insert opened for a filtered table, got %v", drv.opened)
	}
}

// SetTables changes which subsequent TABLE_MAP events are accepted; a
// table already registered keeps running (spec §6's live filter update).
func TestReplicator_SetTables_OnlyAffectsSubsequentTableMapEvents(t *testing.T) {
	drv := &fakeDriver{}
	r := newTestReplicator(galaxy.Config{TaskID: "t1"}, drv, nil, nil)

	body := buildTableMapBody(3, "s", "orders", []byte{decode.TypeLong}, []byte{0})
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, body)); err != nil {
		t.Fatalf("table map dispatch: %v", err)
	}
	if r.tables[3] == nil {
		t.Fatalf("expected table 3 registered before any filter was set")
	}

	r.SetTables(map[string]struct{}{"s.other": {}})

	// Re-delivering a TABLE_MAP for the same id (e.g. after a reconnect)
	// re-evaluates membership against the new filter.
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, body)); err != nil {
		t.Fatalf("table map dispatch after filter change: %v", err)
	}
	if r.tables[3] != nil {
		t.Errorf("expected table 3 filtered out after SetTables narrowed the set")
	}
}

// --- scenario 3: DDL flushes open tables before replaying the statement

func TestReplicator_HandleQuery_FlushesTablesBeforeDDL(t *testing.T) {
	drv := &fakeDriver{}
	r := newTestReplicator(galaxy.Config{TaskID: "t1"}, drv, nil, nil)

	tmBody := buildTableMapBody(5, "s", "orders", []byte{decode.TypeLong}, []byte{0})
	if err := r.dispatch(wrapEvent(replication.TABLE_MAP_EVENT, tmBody)); err != nil {
		t.Fatalf("table map dispatch: %v", err)
	}
	tp := r.tables[5]
	tp.Descriptor = &galaxy.TableDescriptor{Database: "s", Table: "orders", Columns: []galaxy.ColumnSchema{{Field: "id"}}}

	row := []byte{0x00, 1, 0, 0, 0}
	rowsBody := buildRowsBody(5, 1, []byte{0x01}, row)
	if err := r.dispatch(wrapEvent(replication.WRITE_ROWS_EVENTv1, rowsBody)); err != nil {
		t.Fatalf("rows dispatch: %v", err)
	}

	var order []string
	r.ddl = processor.New(&recordingActions{order: &order, name: "ddl"}, 0)
	t.Cleanup(r.ddl.Close)

	ev := &replication.BinlogEvent{
		Header: &replication.EventHeader{EventType: replication.QUERY_EVENT},
		Event: &replication.QueryEvent{
			Schema: []byte("s"),
			Query:  []byte("ALTER TABLE orders ADD COLUMN note TEXT"),
		},
	}
	if err := r.handleQuery(ev); err != nil {
		t.Fatalf("handleQuery: %v", err)
	}

	if !drv.last.committed {
		t.Errorf("expected the open bulk handle to be committed ahead of the DDL replay")
	}
	if len(order) != 1 || order[0] != "ddl" {
		t.Errorf("expected the DDL processor to have processed the statement, got %v", order)
	}
	if !tp.NeedsSchemaRefresh() {
		t.Errorf("expected orders' cached Descriptor to be invalidated after the ALTER TABLE")
	}
}

// recordingActions is a minimal processor.Actions that appends name to
// order on every Process call, letting a test assert relative ordering
// between two Processors without a real sink.
type recordingActions struct {
	order *[]string
	name  string
}

func (a *recordingActions) StartTransaction() error { return nil }
func (a *recordingActions) Process(batch []interface{}) error {
	*a.order = append(*a.order, a.name)
	return nil
}
func (a *recordingActions) CommitTransaction() error { return nil }
func (a *recordingActions) RollbackTransaction()     {}
