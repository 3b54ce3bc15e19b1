package decode

import "testing"

func TestDecodeRows_WriteEvent(t *testing.T) {
	// TABLE_MAP(cols=[LONG, VARCHAR(64)]) -> WRITE_ROWS -> row (5, "abc")
	tm := NewTableMap("shop", "orders", []byte{TypeLong, TypeVarchar}, []byte{64, 0})
	present := []byte{0b11}
	body := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x03, 'a', 'b', 'c'} // null bitmap, then bodies

	sc := NewStringConverter(tm.ColumnCount())
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sc.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(sc.Rows))
	}
	if sc.Rows[0][0] != "5" {
		t.Errorf("col0 = %q, want 5", sc.Rows[0][0])
	}
	if sc.Rows[0][1] != "'abc'" {
		t.Errorf("col1 = %q, want 'abc'", sc.Rows[0][1])
	}
}

func TestDecodeRows_MultipleRows(t *testing.T) {
	tm := NewTableMap("s", "t", []byte{TypeLong}, []byte{})
	present := []byte{0b1}
	body := []byte{
		0x00, // null bitmap for row 1
		0x0A, 0x00, 0x00, 0x00,
		0x00, // null bitmap for row 2
		0x0B, 0x00, 0x00, 0x00,
	}
	sc := NewStringConverter(1)
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sc.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sc.Rows))
	}
	if sc.Rows[0][0] != "10" || sc.Rows[1][0] != "11" {
		t.Errorf("rows = %v", sc.Rows)
	}
}

func TestDecodeUpdateRows(t *testing.T) {
	// TABLE_MAP(cols=[LONG]) -> UPDATE_ROWS(before=10, after=11)
	tm := NewTableMap("s", "t", []byte{TypeLong}, []byte{})
	present := []byte{0b1}
	update := []byte{0b1}
	body := []byte{
		0x00, 0x0A, 0x00, 0x00, 0x00, // before image
		0x00, 0x0B, 0x00, 0x00, 0x00, // after image
	}

	before := NewStringConverter(1)
	after := NewStringConverter(1)
	if err := DecodeUpdateRows(tm, present, update, body, before, after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if before.Rows[0][0] != "10" {
		t.Errorf("before = %v", before.Rows)
	}
	if after.Rows[0][0] != "11" {
		t.Errorf("after = %v", after.Rows)
	}
}

func TestDecode_NullBitmapAllOnes(t *testing.T) {
	tm := NewTableMap("s", "t", []byte{TypeLong, TypeVarchar}, []byte{0, 0})
	present := []byte{0b11}
	body := []byte{0b11} // null bitmap: both columns null, no body bytes follow

	sc := NewStringConverter(2)
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc.Rows[0][0] != "NULL" || sc.Rows[0][1] != "NULL" {
		t.Errorf("rows = %v", sc.Rows)
	}
}

func TestDecode_PresentBitmapAllZeros(t *testing.T) {
	tm := NewTableMap("s", "t", []byte{TypeLong, TypeVarchar}, []byte{0, 0})
	present := []byte{0b00}
	body := []byte{0b00} // null bitmap present but no columns selected

	sc := NewStringConverter(2)
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sc.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(sc.Rows))
	}
	// Neither column was touched; both remain at their zero value.
	if sc.Rows[0][0] != "" || sc.Rows[0][1] != "" {
		t.Errorf("rows = %v", sc.Rows)
	}
}

func TestDecode_VarcharLengthPrefixBoundary(t *testing.T) {
	// Declared length 255 -> 1-byte length prefix.
	tm255 := NewTableMap("s", "t", []byte{TypeVarchar}, []byte{255, 0})
	present := []byte{0b1}
	body := append([]byte{0b0, 0x03}, []byte("abc")...)
	sc := NewStringConverter(1)
	if err := DecodeRows(tm255, present, body, sc); err != nil {
		t.Fatalf("decode 255: %v", err)
	}
	if sc.Rows[0][0] != "'abc'" {
		t.Errorf("255-len row = %v", sc.Rows)
	}

	// Declared length 256 -> 2-byte length prefix.
	tm256 := NewTableMap("s", "t", []byte{TypeVarchar}, []byte{0, 1})
	body2 := append([]byte{0b0, 0x03, 0x00}, []byte("abc")...)
	sc2 := NewStringConverter(1)
	if err := DecodeRows(tm256, present, body2, sc2); err != nil {
		t.Fatalf("decode 256: %v", err)
	}
	if sc2.Rows[0][0] != "'abc'" {
		t.Errorf("256-len row = %v", sc2.Rows)
	}
}

func TestDecode_EnumZeroIsNotNull(t *testing.T) {
	tm := NewTableMap("s", "t", []byte{TypeEnum}, []byte{TypeString, 2})
	present := []byte{0b1}
	body := []byte{0b0, 0x00, 0x00} // width-2 integer value 0
	sc := NewStringConverter(1)
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc.IsNull(0) {
		t.Errorf("enum value 0 should not be NULL")
	}
	if sc.Rows[0][0] != "0" {
		t.Errorf("enum row = %v", sc.Rows)
	}
}

func TestDecodeDecimal(t *testing.T) {
	// DECIMAL(5,2) value 123.45 packed as one compressed int digit group.
	// precision=5, scale=2 -> intDigits=3 (0 full groups, one compressed
	// group of 2 bytes) and 2 fraction digits (one compressed byte).
	tm := NewTableMap("s", "t", []byte{TypeNewDecimal}, []byte{5, 2})
	present := []byte{0b1}
	// 3 integer digits -> compressedBytes[3]=2, 2 frac digits -> compressedBytes[2]=1
	// value 123.45 -> int part 123 (2 bytes, biased+flipped for positive: 0x80|hi, lo)
	intPart := uint16(123) | 0x8000
	body := []byte{0b0, byte(intPart >> 8), byte(intPart), 45}
	sc := NewStringConverter(1)
	if err := DecodeRows(tm, present, body, sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc.Rows[0][0] != "123.45" {
		t.Errorf("decimal = %q, want 123.45", sc.Rows[0][0])
	}
}
