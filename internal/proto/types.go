package proto

// ColumnType enumerates the element types a table column may advertise,
// per the data model: boolean; signed/unsigned integers at 8/16/32/64
// bits; 32/64-bit floats; UTF-8 strings; opaque bytes; nanosecond
// timestamps.
type ColumnType uint8

const (
	TypeBool ColumnType = iota + 1
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBytes
	TypeTimestamp
)

func (t ColumnType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// IsInteger reports whether t is one of the signed or unsigned integer
// widths.
func (t ColumnType) IsInteger() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return true
	default:
		return false
	}
}

// IsSigned reports whether t is a signed integer width.
func (t ColumnType) IsSigned() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	default:
		return false
	}
}

// IsFloat reports whether t is a float width.
func (t ColumnType) IsFloat() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// ColumnDescriptor names a column and gives its element type. It is the
// wire-level unit of a table's schema.
type ColumnDescriptor struct {
	Name string
	Type ColumnType
}

// Schema is an ordered set of column descriptors.
type Schema []ColumnDescriptor

// IndexOf returns the position of name in the schema, or -1.
func (s Schema) IndexOf(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column is one columnar vector of a Page. Exactly one of the typed
// slices is populated, selected by Type; Nulls, if non-nil, is a
// parallel bitmap (true = null) the same length as the populated slice.
type Column struct {
	Name string
	Type ColumnType

	Bools      []bool
	Ints       []int64  // backs Int8/16/32/64
	Uints      []uint64 // backs Uint8/16/32/64
	Floats     []float64
	Strings    []string
	Bytes      [][]byte
	Timestamps []int64 // nanoseconds since epoch

	Nulls []bool
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	switch c.Type {
	case TypeBool:
		return len(c.Bools)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return len(c.Ints)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return len(c.Uints)
	case TypeFloat32, TypeFloat64:
		return len(c.Floats)
	case TypeString:
		return len(c.Strings)
	case TypeBytes:
		return len(c.Bytes)
	case TypeTimestamp:
		return len(c.Timestamps)
	default:
		return 0
	}
}

// IsNull reports whether row i is null.
func (c Column) IsNull(i int) bool {
	return c.Nulls != nil && i < len(c.Nulls) && c.Nulls[i]
}

// Page is a batch of equal-length columns, bounded in row count by the
// server-wide page-row-cap.
type Page struct {
	Columns []Column
}

// NumRows returns the row count of the page (0 if it has no columns).
func (p Page) NumRows() int {
	if len(p.Columns) == 0 {
		return 0
	}
	return p.Columns[0].Len()
}

// Value is a tagged-union scalar used for query predicates, option
// values, and eval arguments.
type Value struct {
	Type ColumnType

	Bool      bool
	Int       int64
	Uint      uint64
	Float     float64
	Str       string
	Bytes     []byte
	Timestamp int64
	Null      bool
}

// StringValue wraps s as a Value of TypeString.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// IntValue wraps i as a Value of TypeInt64.
func IntValue(i int64) Value { return Value{Type: TypeInt64, Int: i} }

// FloatValue wraps f as a Value of TypeFloat64.
func FloatValue(f float64) Value { return Value{Type: TypeFloat64, Float: f} }

// BoolValue wraps b as a Value of TypeBool.
func BoolValue(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// NullValue returns a null value of the given type.
func NullValue(t ColumnType) Value { return Value{Type: t, Null: true} }
