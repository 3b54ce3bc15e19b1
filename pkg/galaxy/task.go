package galaxy

import "github.com/pingcap/errors"

// TaskRequest is the wire shape the scheduler's POST /v1/tasks endpoint
// accepts (spec §6), grounded on the teacher's pkg.Task/pkg.TaskBaseData.
// ToConfig translates a validated TaskRequest into the Config a Replicator
// is constructed from.
type TaskRequest struct {
	TaskID         string             `json:"task_id" yaml:"task_id"`
	PrimaryServers []ServerDescriptor `json:"primary_servers" yaml:"primary_servers"`
	ServerID       uint32             `json:"server_id" yaml:"server_id"`
	GTID           string             `json:"gtid" yaml:"gtid"`
	// Tables and ExcludeTable both carry fully-qualified database.table
	// names. An empty Tables means "include everything"; ExcludeTable only
	// removes names from a non-empty Tables list and is ignored otherwise.
	Tables       []string         `json:"tables" yaml:"tables"`
	ExcludeTable []string         `json:"exclude_table" yaml:"exclude_table"`
	SinkServer   ServerDescriptor `json:"sink_server" yaml:"sink_server"`
	SinkEngine   string           `json:"sink_engine" yaml:"sink_engine"`
	Mode         Mode             `json:"mode" yaml:"mode"`
	Notifier     *NotifierConfig  `json:"notifier" yaml:"notifier"`
}

// LegalVerification checks the fields a Config cannot be built without,
// mirroring the teacher's Task.LegalVerification.
func (t *TaskRequest) LegalVerification() error {
	if t.TaskID == "" {
		return errors.New("task_id is required")
	}
	if len(t.PrimaryServers) == 0 {
		return errors.New("primary_servers is required")
	}
	if t.SinkServer.Host == "" {
		return errors.New("sink_server is required")
	}
	return nil
}

// ToConfig builds the table-filter set (Tables minus ExcludeTable) and
// returns the Config a Replicator consumes.
func (t *TaskRequest) ToConfig() Config {
	exclude := make(map[string]struct{}, len(t.ExcludeTable))
	for _, tbl := range t.ExcludeTable {
		exclude[tbl] = struct{}{}
	}

	var tables map[string]struct{}
	if len(t.Tables) != 0 {
		tables = make(map[string]struct{}, len(t.Tables))
		for _, tbl := range t.Tables {
			if _, skip := exclude[tbl]; skip {
				continue
			}
			tables[tbl] = struct{}{}
		}
	}

	return Config{
		TaskID:         t.TaskID,
		PrimaryServers: t.PrimaryServers,
		ServerID:       t.ServerID,
		GTID:           t.GTID,
		Tables:         tables,
		SinkServer:     t.SinkServer,
		SinkEngine:     t.SinkEngine,
		Mode:           t.Mode,
	}
}

// TaskUpdate is the PATCH /v1/tasks/:task_id body: it replaces a running
// task's table filter, mirroring the teacher's pkg.TaskUpdate.
type TaskUpdate struct {
	TaskID       string   `json:"task_id"`
	Tables       []string `json:"tables"`
	ExcludeTable []string `json:"exclude_table"`
}

// LegalVerification mirrors the teacher's TaskUpdate.LegalVerification.
func (t *TaskUpdate) LegalVerification() error {
	if t.TaskID == "" {
		return errors.New("task_id is required")
	}
	return nil
}

// TableSet builds the Tables-minus-ExcludeTable set Replicator.SetTables
// expects.
func (t *TaskUpdate) TableSet() map[string]struct{} {
	exclude := make(map[string]struct{}, len(t.ExcludeTable))
	for _, tbl := range t.ExcludeTable {
		exclude[tbl] = struct{}{}
	}
	if len(t.Tables) == 0 {
		return nil
	}
	tables := make(map[string]struct{}, len(t.Tables))
	for _, tbl := range t.Tables {
		if _, skip := exclude[tbl]; skip {
			continue
		}
		tables[tbl] = struct{}{}
	}
	return tables
}

// StandardReturn is the scheduler HTTP surface's uniform response
// envelope, grounded on the teacher's pkg.StandardReturn.
type StandardReturn struct {
	ErrorCode int         `json:"error_code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrParameterError is the canned response for a request that fails to
// bind or name an existing task. The teacher's pkg.ParameterError is
// referenced throughout internal/scheduler but missing from this pack's
// retrieved snapshot; this is the same "bad request, no further detail"
// envelope reconstructed from its call sites.
var ErrParameterError = StandardReturn{ErrorCode: 400, Message: "parameter error"}
