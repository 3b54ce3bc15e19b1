package replicator

import (
	"encoding/binary"
	"fmt"

	"github.com/galaxycdc/replicator/core/decode"
)

// tableIDSize is fixed at 6 bytes for every MariaDB-family server this
// package targets (pre-5.1 4-byte table ids are not supported).
const tableIDSize = 6

// parseTableMap decodes a TABLE_MAP_EVENT body (the raw post-header,
// pre-checksum bytes go-mysql-org hands back via BinlogEvent.RawData) into
// the table id it describes and the TableMap core/decode needs. This
// mirrors the column-type/metadata extraction original_source/replicator's
// table.cc performs through mariadb_rpl's MARIADB_RPL_EVENT, done here
// directly against the wire bytes since go-mysql-org's own TableMapEvent
// does not retain the raw metadata block core/decode slices.
func parseTableMap(raw []byte) (uint64, *decode.TableMap, error) {
	pos := 0
	if len(raw) < tableIDSize+2 {
		return 0, nil, fmt.Errorf("replicator: table map event truncated")
	}
	tableID := readUintLE(raw[pos : pos+tableIDSize])
	pos += tableIDSize
	pos += 2 // flags

	schema, n, err := readLengthPrefixedName(raw[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += n

	table, n, err := readLengthPrefixedName(raw[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += n

	colCount, n, err := readLenEncInt(raw[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += n

	if len(raw) < pos+int(colCount) {
		return 0, nil, fmt.Errorf("replicator: table map column types truncated")
	}
	colTypes := make([]byte, colCount)
	copy(colTypes, raw[pos:pos+int(colCount)])
	pos += int(colCount)

	metaLen, n, err := readLenEncInt(raw[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += n

	if len(raw) < pos+int(metaLen) {
		return 0, nil, fmt.Errorf("replicator: table map metadata truncated")
	}
	meta := make([]byte, metaLen)
	copy(meta, raw[pos:pos+int(metaLen)])

	return tableID, decode.NewTableMap(schema, table, colTypes, meta), nil
}

// rowsHeader is the envelope that precedes the row images in a
// WRITE_ROWS/UPDATE_ROWS/DELETE_ROWS event: the table id, the
// column-present bitmap (and, for UPDATE_ROWS, the after-image bitmap),
// and the row images themselves.
type rowsHeader struct {
	TableID uint64
	Present []byte
	Update  []byte
	Body    []byte
}

// parseRowsEvent decodes a ROWS_EVENT body. isUpdate selects whether a
// second (after-image) column bitmap follows the first; isV2 selects
// whether the v2 extra-row-info block is present between flags and the
// column count, per the MariaDB binlog row-event format.
func parseRowsEvent(raw []byte, isUpdate, isV2 bool) (*rowsHeader, error) {
	pos := 0
	if len(raw) < tableIDSize+2 {
		return nil, fmt.Errorf("replicator: rows event truncated")
	}
	tableID := readUintLE(raw[pos : pos+tableIDSize])
	pos += tableIDSize
	pos += 2 // flags

	if isV2 {
		if len(raw) < pos+2 {
			return nil, fmt.Errorf("replicator: rows event v2 extra-info length truncated")
		}
		extraLen := int(binary.LittleEndian.Uint16(raw[pos:]))
		pos += extraLen
	}

	colCount, n, err := readLenEncInt(raw[pos:])
	if err != nil {
		return nil, err
	}
	pos += n

	nbLen := (int(colCount) + 7) / 8
	if len(raw) < pos+nbLen {
		return nil, fmt.Errorf("replicator: rows event present bitmap truncated")
	}
	present := make([]byte, nbLen)
	copy(present, raw[pos:pos+nbLen])
	pos += nbLen

	var update []byte
	if isUpdate {
		if len(raw) < pos+nbLen {
			return nil, fmt.Errorf("replicator: rows event update bitmap truncated")
		}
		update = make([]byte, nbLen)
		copy(update, raw[pos:pos+nbLen])
		pos += nbLen
	}

	return &rowsHeader{
		TableID: tableID,
		Present: present,
		Update:  update,
		Body:    raw[pos:],
	}, nil
}

func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// readLengthPrefixedName reads a TABLE_MAP_EVENT schema/table name: a
// 1-byte length followed by that many bytes, followed by a single 0x00
// filler byte.
func readLengthPrefixedName(buf []byte) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, fmt.Errorf("replicator: table map name length truncated")
	}
	n := int(buf[0])
	if len(buf) < 1+n+1 {
		return "", 0, fmt.Errorf("replicator: table map name truncated")
	}
	return string(buf[1 : 1+n]), 1 + n + 1, nil
}

// readLenEncInt reads a MySQL length-encoded integer and returns its value
// and the number of bytes consumed.
func readLenEncInt(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("replicator: length-encoded integer truncated")
	}
	switch {
	case buf[0] < 0xfb:
		return uint64(buf[0]), 1, nil
	case buf[0] == 0xfc:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("replicator: length-encoded integer truncated")
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case buf[0] == 0xfd:
		if len(buf) < 4 {
			return 0, 0, fmt.Errorf("replicator: length-encoded integer truncated")
		}
		return uint64(buf[1]) | uint64(buf[2])<<8 | uint64(buf[3])<<16, 4, nil
	case buf[0] == 0xfe:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("replicator: length-encoded integer truncated")
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	default:
		return 0, 0, fmt.Errorf("replicator: unsupported length-encoded integer prefix 0x%02x", buf[0])
	}
}
