// Package conn implements the single network-session abstraction the core
// uses for both the replication stream and the SQL delivery channel (spec
// §4.1). It wraps github.com/go-mysql-org/go-mysql for the wire protocol and
// database/sql + github.com/go-sql-driver/mysql for ordinary queries,
// exactly as the teacher's sync/sync_server packages do.
package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// ReconnectBackoff is the fixed delay between failed connect attempts
// against the candidate list (spec §4.1).
const ReconnectBackoff = 5 * time.Second

// Connection is a network session to one candidate primary, optionally
// promoted into a replication stream, plus the plain SQL channel used for
// DESCRIBE/DML. Not safe for concurrent use by more than one goroutine.
type Connection struct {
	mu       sync.Mutex
	db       *sql.DB
	server   galaxy.ServerDescriptor
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	lastErr  string
}

// Connect attempts each candidate in order and returns a Connection bound to
// the first one that accepts a plain SQL ping. On full failure it returns
// the last candidate's error text.
func Connect(candidates []galaxy.ServerDescriptor) (*Connection, error) {
	var lastErr error
	for _, cand := range candidates {
		db, err := sql.Open("mysql", dsn(cand))
		if err != nil {
			lastErr = err
			continue
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(2)
		if err := db.Ping(); err != nil {
			db.Close()
			lastErr = err
			continue
		}
		return &Connection{db: db, server: cand}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidates configured")
	}
	return nil, errors.WithStack(lastErr)
}

func dsn(s galaxy.ServerDescriptor) string {
	return fmt.Sprintf("%s:%s@(%s:%d)/", s.User, s.Password, s.Host, s.Port)
}

// Server identifies which candidate this Connection ended up using.
func (c *Connection) Server() galaxy.ServerDescriptor {
	return c.server
}

// LastError returns the most recent error text observed on this
// Connection, or "" if none.
func (c *Connection) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Connection) setErr(err error) error {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	return err
}

// Query executes a single statement with no expectation of a result set
// (USE, BEGIN, COMMIT, ROLLBACK, DDL, synthesized DML).
func (c *Connection) Query(stmt string) error {
	_, err := c.db.Exec(stmt)
	if err != nil {
		return c.setErr(errors.WithStack(err))
	}
	return nil
}

// QueryAll executes a sequence of statements, stopping at the first
// failure. No implicit transaction boundary is introduced between them.
func (c *Connection) QueryAll(stmts []string) error {
	for _, s := range stmts {
		if err := c.Query(s); err != nil {
			return err
		}
	}
	return nil
}

// Row is one result-set row rendered as text columns; SQL NULL is the
// empty string (spec §4.1).
type Row []string

// Fetch runs a query and drains the full result set.
func (c *Connection) Fetch(query string) ([]Row, error) {
	rows, err := c.db.Query(query)
	if err != nil {
		return nil, c.setErr(errors.WithStack(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, c.setErr(errors.WithStack(err))
	}

	var out []Row
	raw := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.setErr(errors.WithStack(err))
		}
		row := make(Row, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// FetchRow runs a query expected to return at most one row.
func (c *Connection) FetchRow(query string) (Row, error) {
	rows, err := c.Fetch(query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// handshakeStatements builds the pre-replication handshake batch, in the
// fixed, order-sensitive sequence spec §4.1 requires.
func handshakeStatements(gtidStart string) []string {
	return []string{
		"SET @master_binlog_checksum = @@global.binlog_checksum",
		"SET @mariadb_slave_capability = 4",
		fmt.Sprintf("SET @slave_connect_state = '%s'", gtidStart),
		"SET @slave_gtid_strict_mode = 1, @slave_gtid_ignore_duplicates = 1",
		"SET NAMES utf8",
	}
}

// Replicate promotes this Connection's SQL session into a replication
// stream registered under serverID, starting at the MariaDB GTID gtidStart
// when it is non-empty and at pos otherwise. It fails if the session has
// already been promoted.
func (c *Connection) Replicate(serverID uint32, flavor string, pos mysql.Position, gtidStart string) error {
	if c.syncer != nil {
		return c.setErr(errors.New("connection already promoted to a replication stream"))
	}

	if err := c.QueryAll(handshakeStatements(gtidStart)); err != nil {
		return err
	}

	cfg := replication.BinlogSyncerConfig{
		ServerID:   serverID,
		Flavor:     flavor,
		Host:       c.server.Host,
		Port:       c.server.Port,
		User:       c.server.User,
		Password:   c.server.Password,
		UseDecimal: true,
	}
	syncer := replication.NewBinlogSyncer(cfg)
	var streamer *replication.BinlogStreamer
	var err error
	if gtidStart != "" {
		gset, perr := mysql.ParseMariadbGTIDSet(gtidStart)
		if perr != nil {
			syncer.Close()
			return c.setErr(errors.WithStack(perr))
		}
		streamer, err = syncer.StartSyncGTID(gset)
	} else {
		streamer, err = syncer.StartSync(pos)
	}
	if err != nil {
		syncer.Close()
		return c.setErr(errors.WithStack(err))
	}

	c.syncer = syncer
	c.streamer = streamer
	return nil
}

// FetchEvent returns the next replication event, or nil if the stream is
// broken or exhausted — a signal to reconnect, not necessarily an error.
func (c *Connection) FetchEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	if c.streamer == nil {
		return nil, errors.New("connection has not been promoted to a replication stream")
	}
	ev, err := c.streamer.GetEvent(ctx)
	if err != nil {
		c.setErr(errors.WithStack(err))
		return nil, err
	}
	return ev, nil
}

// MasterStatus queries SHOW MASTER STATUS and returns the file/position the
// primary is currently writing to, used to resolve a starting position when
// no GTID is configured.
func (c *Connection) MasterStatus() (mysql.Position, error) {
	row, err := c.FetchRow("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, err
	}
	if len(row) < 2 {
		return mysql.Position{}, c.setErr(errors.New("SHOW MASTER STATUS returned no rows; is binary logging enabled?"))
	}
	var pos uint32
	fmt.Sscanf(row[1], "%d", &pos)
	return mysql.Position{Name: row[0], Pos: pos}, nil
}

// Close releases both halves of the connection.
func (c *Connection) Close() error {
	if c.syncer != nil {
		c.syncer.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
