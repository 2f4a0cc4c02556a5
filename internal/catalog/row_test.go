package catalog

import "testing"

func sampleSchema() TableSchema {
	return TableSchema{
		TableName: "t",
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "balance", Type: TypeDouble},
			{Name: "big", Type: TypeBigInt},
			{Name: "name", Type: TypeVarchar, Length: 8},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := sampleSchema()
	values := []string{"42", "3.5", "9000000000", "alice"}
	buf, err := Encode(schema, values)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != schema.RowWidth() {
		t.Fatalf("encoded width = %d, want %d", len(buf), schema.RowWidth())
	}
	row, err := Decode(schema, buf)
	if err != nil {
		t.Fatal(err)
	}
	for i, col := range schema.Columns {
		v, ok := row.Get(col.Name)
		if !ok || v != values[i] {
			t.Fatalf("column %s: got %q, want %q", col.Name, v, values[i])
		}
	}
}

func TestEncodeRejectsValueExceedingVarcharLength(t *testing.T) {
	schema := sampleSchema()
	values := []string{"1", "1.0", "1", "waytoolongname"}
	if _, err := Encode(schema, values); err == nil {
		t.Fatal("expected an error when a VARCHAR value exceeds its declared length")
	}
}

func TestEncodeRejectsWrongValueCount(t *testing.T) {
	schema := sampleSchema()
	if _, err := Encode(schema, []string{"1"}); err == nil {
		t.Fatal("expected an error when value count does not match column count")
	}
}

func TestVarcharFieldIsZeroPaddedAndTrimmed(t *testing.T) {
	schema := TableSchema{Columns: []Column{{Name: "name", Type: TypeVarchar, Length: 8}}}
	buf, err := Encode(schema, []string{"hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 8 {
		t.Fatalf("expected 8-byte fixed width, got %d", len(buf))
	}
	row, err := Decode(schema, buf)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := row.Get("name"); v != "hi" {
		t.Fatalf("decoded value = %q, want %q", v, "hi")
	}
}
