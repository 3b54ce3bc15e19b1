package galaxy

// ColumnSchema is one row of SHOW FULL COLUMNS FROM db.table, grounded on
// the teacher's pkg.MySQLSchema / queryTableSchema.
type ColumnSchema struct {
	Field      string
	Type       string
	Collation  string
	Null       string
	Key        string
	Default    string
	Extra      string
	Privileges string
	Comment    string
}

// NotNull reports whether this column rejects SQL NULL.
func (c ColumnSchema) NotNull() bool {
	return c.Null == "NO"
}

// TableDescriptor is the sink-side schema for a table, obtained by issuing
// a DESCRIBE/SHOW FULL COLUMNS against the sink (spec §3, §4.4). Used only
// in SQL-delivery mode to synthesize WHERE predicates and SET lists.
type TableDescriptor struct {
	Database string
	Table    string
	Columns  []ColumnSchema
}

// ColumnNames returns the descriptor's columns in declared order.
func (d *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Field
	}
	return names
}

// ServerStatus is the result of SHOW MASTER STATUS, grounded on the
// teacher's pkg.MySQLStatus.
type ServerStatus struct {
	File            string
	Position        uint32
	BinlogDoDB      string
	BinlogIgnoreDB  string
	ExecutedGtidSet string
}

// RecoveryEntry tracks one in-flight unit of replayable work for crash
// recovery (spec §9's "reasonable extension... outside the core"),
// grounded on the teacher's pkg.ConcurrentlyTask.
type RecoveryEntry struct {
	PosName string
	Pos     uint32
	Success bool
}
