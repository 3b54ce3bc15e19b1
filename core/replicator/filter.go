package replicator

import "strings"

// ddlTables makes a best-effort guess at which fully-qualified tables a
// DDL statement touches, for table-filter purposes only — it is never used
// to decide how to apply the statement. Grounded on the teacher's
// updateSchema tokenizer
// (_examples/dollarkillerx-galaxy/internal/sync_server/baseinfo.go), which
// takes the same approach in the absence of a real SQL parser; the
// original's qc_get_table_names (original_source/replicator/replicator.cc)
// does the equivalent with MaxScale's query classifier, unavailable here.
func ddlTables(defaultDB, query string) []string {
	fields := strings.Fields(query)
	if len(fields) < 3 {
		return nil
	}
	verb := strings.ToLower(fields[0])
	noun := strings.ToLower(fields[1])
	if verb != "alter" && verb != "create" && verb != "drop" && verb != "rename" && verb != "truncate" {
		return nil
	}
	if noun != "table" {
		return nil
	}

	idx := 2
	if strings.EqualFold(fields[idx], "if") {
		// IF EXISTS / IF NOT EXISTS sit between TABLE and the name.
		idx++
		if idx < len(fields) && strings.EqualFold(fields[idx], "not") {
			idx++
		}
		if idx < len(fields) && strings.EqualFold(fields[idx], "exists") {
			idx++
		}
		if idx >= len(fields) {
			return nil
		}
	}

	raw := strings.TrimRight(fields[idx], ";,(")
	db, tbl := defaultDB, raw
	if idx := strings.Index(raw, "."); idx != -1 {
		db, tbl = raw[:idx], raw[idx+1:]
	}
	db = strings.Trim(db, "`")
	tbl = strings.Trim(tbl, "`")
	if tbl == "" {
		return nil
	}
	return []string{db + "." + tbl}
}
