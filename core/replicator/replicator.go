// Package replicator implements Replicator (spec §4.6): the reader
// goroutine that owns the table-id -> TableProcessor map, dispatches every
// binlog event to the right processor, and tracks the durable GTID.
// Grounded on original_source/replicator/replicator.cc's Imp::process_events/
// process_one_event and on the teacher's internal/sync_server.Sync.Monitor/
// syncMySQL, which drive the same loop against
// github.com/go-mysql-org/go-mysql.
package replicator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"

	"github.com/galaxycdc/replicator/core/conn"
	"github.com/galaxycdc/replicator/core/processor"
	"github.com/galaxycdc/replicator/core/sqlexec"
	"github.com/galaxycdc/replicator/core/table"
	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// commonHeaderSize is the fixed length of a binlog event's common header,
// which BinlogEvent.RawData carries ahead of the event-specific body.
const commonHeaderSize = 19

// Notifier receives a best-effort audit notification once per committed
// transaction. Kept as a minimal local interface so core/replicator never
// imports internal/notifier.
type Notifier interface {
	Publish(taskID, gtid string) error
}

// Metrics receives the counters Replicator produces as it runs. Kept as a
// minimal local interface so core/replicator never imports
// internal/metrics.
type Metrics interface {
	ObserveCommit(taskID, gtid string)
	ObserveReconnect(taskID string)
	ObserveProcessorError(taskID, database, tbl string)
}

// Replicator drives one replication task end to end: connect, register
// TableProcessors as TABLE_MAP events introduce tables, fan row events out
// to them, and commit the durable GTID only once every table involved in a
// transaction has successfully committed.
type Replicator struct {
	cnf    galaxy.Config
	driver table.BulkDriver

	notifier Notifier
	metrics  Metrics
	// onDurable reports the new durable GTID after every successful XID
	// fan-out. The Replicator never persists it itself (spec §7's
	// "outside the core" extension point) — the scheduler layer supplies
	// this callback to write through to internal/gtidstore.
	onDurable func(taskID, gtid string)

	mu          sync.Mutex
	conn        *conn.Connection
	tables      map[uint64]*table.TableProcessor
	tableNames  map[uint64]string // "database.table", for log/metric labels
	ddl         *processor.Processor
	ddlExec     *sqlexec.SQLExecutor
	currentGTID string
	durableGTID string
	errMsg      string

	stop chan struct{}
	done chan struct{}
}

// New constructs a Replicator. It does not connect until Start is called.
func New(cnf galaxy.Config, driver table.BulkDriver, notifier Notifier, metrics Metrics) *Replicator {
	return &Replicator{
		cnf:         cnf,
		driver:      driver,
		notifier:    notifier,
		metrics:     metrics,
		tables:      make(map[uint64]*table.TableProcessor),
		tableNames:  make(map[uint64]string),
		durableGTID: cnf.GTID,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetOnDurable installs the callback invoked after every GTID advance.
func (r *Replicator) SetOnDurable(fn func(taskID, gtid string)) {
	r.onDurable = fn
}

// Start launches the reader goroutine.
func (r *Replicator) Start() {
	go r.run()
}

// Stop signals the reader goroutine to exit and waits for it to finish.
func (r *Replicator) Stop() {
	close(r.stop)
	<-r.done
}

// GTID returns the most recently durable GTID — the position safe to
// resume from after a crash.
func (r *Replicator) GTID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durableGTID
}

// Error returns the last error message observed, or "" if none.
func (r *Replicator) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

func (r *Replicator) setErr(err error) {
	r.mu.Lock()
	r.errMsg = err.Error()
	r.mu.Unlock()
}

// SetTables replaces the table filter set a running Replicator uses for
// newly-seen TABLE_MAP/QUERY events (spec §6's PATCH /v1/tasks/:task_id).
// Tables already registered under the previous filter keep running;
// only subsequent TABLE_MAP events re-evaluate membership.
func (r *Replicator) SetTables(tables map[string]struct{}) {
	r.mu.Lock()
	r.cnf.Tables = tables
	r.mu.Unlock()
}

func (r *Replicator) tableAllowed(database, tbl string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cnf.TableAllowed(database, tbl)
}

func (r *Replicator) hasTableFilter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cnf.Tables) != 0
}

func (r *Replicator) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			r.closeConn()
			return
		default:
		}

		if err := r.connect(); err != nil {
			r.setErr(err)
			if r.metrics != nil {
				r.metrics.ObserveReconnect(r.cnf.TaskID)
			}
			select {
			case <-r.stop:
				return
			case <-time.After(conn.ReconnectBackoff):
				continue
			}
		}

		if err := r.processOne(); err != nil {
			r.setErr(err)
			r.closeConn()
			continue
		}
	}
}

func (r *Replicator) connect() error {
	r.mu.Lock()
	already := r.conn != nil
	r.mu.Unlock()
	if already {
		return nil
	}

	c, err := conn.Connect(r.cnf.PrimaryServers)
	if err != nil {
		return err
	}

	gtidStart := r.GTID()
	pos := mysql.Position{}
	if gtidStart == "" {
		status, err := c.MasterStatus()
		if err != nil {
			c.Close()
			return err
		}
		pos = status
	}

	if err := c.Replicate(r.cnf.ServerID, "mariadb", pos, gtidStart); err != nil {
		c.Close()
		return err
	}

	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()

	r.ddlExec = sqlexec.New(r.cnf.SinkServer, r.cnf.SinkEngine)
	r.ddl = processor.New(r.ddlExec, r.cnf.Flush())
	return nil
}

func (r *Replicator) closeConn() {
	r.mu.Lock()
	c := r.conn
	r.conn = nil
	r.mu.Unlock()
	if c != nil {
		c.Close()
	}
	if r.ddl != nil {
		r.ddl.Close()
		r.ddl = nil
	}
	for id, tp := range r.tables {
		tp.Close()
		delete(r.tables, id)
		delete(r.tableNames, id)
	}
}

func (r *Replicator) processOne() error {
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()
	if c == nil {
		return fmt.Errorf("replicator: not connected")
	}

	event, err := c.FetchEvent(context.Background())
	if err != nil {
		return err
	}
	return r.dispatch(event)
}

func (r *Replicator) dispatch(event *replication.BinlogEvent) error {
	switch event.Header.EventType {
	case replication.MARIADB_GTID_EVENT:
		if g, ok := event.Event.(*replication.MariadbGTIDEvent); ok {
			r.currentGTID = fmt.Sprintf("%d-%d-%d", g.GTID.DomainID, g.GTID.ServerID, g.GTID.SequenceNumber)
		}
		return nil

	case replication.XID_EVENT:
		return r.commitAll()

	case replication.TABLE_MAP_EVENT:
		return r.handleTableMap(event)

	case replication.WRITE_ROWS_EVENTv1:
		return r.handleRows(event, table.Insert, false, false)
	case replication.WRITE_ROWS_EVENTv2:
		return r.handleRows(event, table.Insert, false, true)
	case replication.DELETE_ROWS_EVENTv1:
		return r.handleRows(event, table.Delete, false, false)
	case replication.DELETE_ROWS_EVENTv2:
		return r.handleRows(event, table.Delete, false, true)
	case replication.UPDATE_ROWS_EVENTv1:
		return r.handleRows(event, table.Update, true, false)
	case replication.UPDATE_ROWS_EVENTv2:
		return r.handleRows(event, table.Update, true, true)

	case replication.QUERY_EVENT:
		return r.handleQuery(event)

	default:
		return nil
	}
}

func (r *Replicator) handleTableMap(event *replication.BinlogEvent) error {
	body, err := eventBody(event)
	if err != nil {
		return err
	}
	tableID, tm, err := parseTableMap(body)
	if err != nil {
		return err
	}

	if !r.tableAllowed(tm.Database, tm.Table) {
		r.tables[tableID] = nil
		return nil
	}

	tp := table.New(tm.Database, tm.Table, tm, r.cnf.Mode, r.cnf.SinkServer, r.driver, r.cnf.Flush())
	r.tables[tableID] = tp
	r.tableNames[tableID] = tm.Database + "." + tm.Table
	return nil
}

func (r *Replicator) handleRows(event *replication.BinlogEvent, kind table.Kind, isUpdate, isV2 bool) error {
	body, err := eventBody(event)
	if err != nil {
		return err
	}
	h, err := parseRowsEvent(body, isUpdate, isV2)
	if err != nil {
		return err
	}
	tp, ok := r.tables[h.TableID]
	if !ok || tp == nil {
		return nil // filtered out, or a table map we never saw
	}
	tp.Enqueue(&table.RowEvent{
		Kind:    kind,
		Present: h.Present,
		Update:  h.Update,
		RowData: h.Body,
	})
	return nil
}

// handleQuery forwards a QUERY_EVENT's statement through the DDL
// processor, flushing every open TableProcessor first so no bulk insert or
// synthesized DML races a schema change (original_source's
// flush_tables-before-query ordering).
func (r *Replicator) handleQuery(event *replication.BinlogEvent) error {
	qe, ok := event.Event.(*replication.QueryEvent)
	if !ok {
		return nil
	}
	query := strings.TrimSpace(string(qe.Query))
	if query == "" || strings.EqualFold(query, "BEGIN") {
		return nil
	}
	if qe.ErrorCode != 0 {
		return nil
	}
	schema := string(qe.Schema)

	if r.hasTableFilter() {
		affected := ddlTables(schema, query)
		matched := false
		for _, t := range affected {
			parts := strings.SplitN(t, ".", 2)
			if len(parts) == 2 && r.tableAllowed(parts[0], parts[1]) {
				matched = true
			}
		}
		if len(affected) > 0 && !matched {
			return nil
		}
	}

	if err := r.flushAllTables(); err != nil {
		return err
	}

	r.ddl.Enqueue(&sqlexec.Statement{Database: schema, Query: query})
	if !r.ddl.Commit() {
		return errors.New(r.ddl.Error())
	}

	for id, name := range r.tableNames {
		parts := strings.SplitN(name, ".", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], schema) {
			if tp := r.tables[id]; tp != nil {
				tp.InvalidateSchema()
			}
		}
	}
	return nil
}

// flushAllTables commits every open TableProcessor without advancing the
// durable GTID — used ahead of DDL, where the transaction boundary is the
// query itself rather than an XID.
func (r *Replicator) flushAllTables() error {
	for id, tp := range r.tables {
		if tp == nil {
			continue
		}
		if !tp.Commit() {
			if r.metrics != nil {
				r.metrics.ObserveProcessorError(r.cnf.TaskID, tableDatabase(r.tableNames[id]), tableNamePart(r.tableNames[id]))
			}
			return fmt.Errorf("replicator: table processor for %s failed: %s", r.tableNames[id], tp.Error())
		}
	}
	return nil
}

// commitAll handles an XID_EVENT: every TableProcessor with queued work
// must commit before the durable GTID advances. If any fails, the
// connection is dropped and the durable GTID is left untouched — replay
// from the last durable position will redeliver this transaction (the
// explicit resolution of the partial-commit-failure question: never
// advance durable past a transaction with a failed table).
func (r *Replicator) commitAll() error {
	for id, tp := range r.tables {
		if tp == nil {
			continue
		}
		if !tp.Commit() {
			if r.metrics != nil {
				r.metrics.ObserveProcessorError(r.cnf.TaskID, tableDatabase(r.tableNames[id]), tableNamePart(r.tableNames[id]))
			}
			return fmt.Errorf("replicator: table processor for %s failed during commit: %s", r.tableNames[id], tp.Error())
		}
	}

	r.mu.Lock()
	r.durableGTID = r.currentGTID
	gtid := r.durableGTID
	r.mu.Unlock()

	if r.onDurable != nil {
		r.onDurable(r.cnf.TaskID, gtid)
	}
	if r.metrics != nil {
		r.metrics.ObserveCommit(r.cnf.TaskID, gtid)
	}
	if r.notifier != nil {
		if err := r.notifier.Publish(r.cnf.TaskID, gtid); err != nil {
			// Best-effort: the notifier is an audit trail, not the
			// source of truth, so its failure must not abandon an
			// otherwise-successful commit.
			r.setErr(err)
		}
	}
	return nil
}

func tableDatabase(name string) string {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[0]
	}
	return name
}

func tableNamePart(name string) string {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// eventBody strips the common header from RawData, leaving the
// event-specific body that parseTableMap/parseRowsEvent expect.
func eventBody(event *replication.BinlogEvent) ([]byte, error) {
	if len(event.RawData) < commonHeaderSize {
		return nil, fmt.Errorf("replicator: event shorter than common header")
	}
	return event.RawData[commonHeaderSize:], nil
}

