package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// byteWriter accumulates a payload using varint-length-prefixed strings
// and fixed-width numeric encodings. It never returns an error itself;
// all fallibility lives on the reader side.
type byteWriter struct {
	buf []byte
}

func newWriter() *byteWriter { return &byteWriter{buf: make([]byte, 0, 64)} }

func (w *byteWriter) bytes() []byte { return w.buf }

func (w *byteWriter) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *byteWriter) writeBool(b bool) {
	if b {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *byteWriter) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) writeVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) writeFloat64(f float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) writeString(s string) {
	w.writeUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) writeBytes(b []byte) {
	w.writeUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) writeBoolSlice(bs []bool) {
	w.writeUvarint(uint64(len(bs)))
	for _, b := range bs {
		w.writeBool(b)
	}
}

func (w *byteWriter) writeNulls(nulls []bool, n int) {
	if nulls == nil {
		w.writeByte(0)
		return
	}
	w.writeByte(1)
	for i := 0; i < n; i++ {
		w.writeBool(i < len(nulls) && nulls[i])
	}
}

// byteReader is the dual of byteWriter.
type byteReader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *byteReader { return &byteReader{buf: b} }

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("proto: unexpected end of payload reading byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBool() (bool, error) {
	b, err := r.readByte()
	return b != 0, err
}

func (r *byteReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("proto: invalid uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readVarint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("proto: invalid varint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readFloat64() (float64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("proto: unexpected end of payload reading float64")
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v, nil
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readUvarint()
	if err != nil {
		return "", err
	}
	if uint64(r.remaining()) < n {
		return "", fmt.Errorf("proto: truncated string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *byteReader) readBytes() ([]byte, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.remaining()) < n {
		return nil, fmt.Errorf("proto: truncated bytes")
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *byteReader) readNulls(n int) ([]bool, error) {
	present, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	nulls := make([]bool, n)
	for i := 0; i < n; i++ {
		b, err := r.readBool()
		if err != nil {
			return nil, err
		}
		nulls[i] = b
	}
	return nulls, nil
}

// EncodeSchema serializes a Schema.
func EncodeSchema(s Schema) []byte {
	w := newWriter()
	w.writeUvarint(uint64(len(s)))
	for _, c := range s {
		w.writeString(c.Name)
		w.writeByte(byte(c.Type))
	}
	return w.bytes()
}

// DecodeSchema deserializes a Schema.
func DecodeSchema(payload []byte) (Schema, error) {
	r := newReader(payload)
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	out := make(Schema, 0, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.readString()
		if err != nil {
			return nil, err
		}
		typ, err := r.readByte()
		if err != nil {
			return nil, err
		}
		out = append(out, ColumnDescriptor{Name: name, Type: ColumnType(typ)})
	}
	return out, nil
}

// EncodePage serializes a Page: a small header per column with element
// type and count, followed by the typed values.
func EncodePage(p Page) []byte {
	w := newWriter()
	w.writeUvarint(uint64(len(p.Columns)))
	for _, c := range p.Columns {
		w.writeString(c.Name)
		w.writeByte(byte(c.Type))
		n := c.Len()
		w.writeUvarint(uint64(n))
		w.writeNulls(c.Nulls, n)
		switch c.Type {
		case TypeBool:
			for _, v := range c.Bools {
				w.writeBool(v)
			}
		case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
			for _, v := range c.Ints {
				w.writeVarint(v)
			}
		case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
			for _, v := range c.Uints {
				w.writeUvarint(v)
			}
		case TypeFloat32, TypeFloat64:
			for _, v := range c.Floats {
				w.writeFloat64(v)
			}
		case TypeString:
			for _, v := range c.Strings {
				w.writeString(v)
			}
		case TypeBytes:
			for _, v := range c.Bytes {
				w.writeBytes(v)
			}
		case TypeTimestamp:
			for _, v := range c.Timestamps {
				w.writeVarint(v)
			}
		}
	}
	return w.bytes()
}

// DecodePage deserializes a Page produced by EncodePage.
func DecodePage(payload []byte) (Page, error) {
	r := newReader(payload)
	ncols, err := r.readUvarint()
	if err != nil {
		return Page{}, err
	}
	p := Page{Columns: make([]Column, 0, ncols)}
	for i := uint64(0); i < ncols; i++ {
		name, err := r.readString()
		if err != nil {
			return Page{}, err
		}
		typb, err := r.readByte()
		if err != nil {
			return Page{}, err
		}
		typ := ColumnType(typb)
		n, err := r.readUvarint()
		if err != nil {
			return Page{}, err
		}
		nulls, err := r.readNulls(int(n))
		if err != nil {
			return Page{}, err
		}
		col := Column{Name: name, Type: typ, Nulls: nulls}
		switch typ {
		case TypeBool:
			vs := make([]bool, n)
			for j := range vs {
				if vs[j], err = r.readBool(); err != nil {
					return Page{}, err
				}
			}
			col.Bools = vs
		case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
			vs := make([]int64, n)
			for j := range vs {
				if vs[j], err = r.readVarint(); err != nil {
					return Page{}, err
				}
			}
			col.Ints = vs
		case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
			vs := make([]uint64, n)
			for j := range vs {
				if vs[j], err = r.readUvarint(); err != nil {
					return Page{}, err
				}
			}
			col.Uints = vs
		case TypeFloat32, TypeFloat64:
			vs := make([]float64, n)
			for j := range vs {
				if vs[j], err = r.readFloat64(); err != nil {
					return Page{}, err
				}
			}
			col.Floats = vs
		case TypeString:
			vs := make([]string, n)
			for j := range vs {
				if vs[j], err = r.readString(); err != nil {
					return Page{}, err
				}
			}
			col.Strings = vs
		case TypeBytes:
			vs := make([][]byte, n)
			for j := range vs {
				if vs[j], err = r.readBytes(); err != nil {
					return Page{}, err
				}
			}
			col.Bytes = vs
		case TypeTimestamp:
			vs := make([]int64, n)
			for j := range vs {
				if vs[j], err = r.readVarint(); err != nil {
					return Page{}, err
				}
			}
			col.Timestamps = vs
		default:
			return Page{}, fmt.Errorf("proto: unknown column type %d", typb)
		}
		p.Columns = append(p.Columns, col)
	}
	return p, nil
}

// EncodeValue serializes a tagged-union Value.
func EncodeValue(v Value) []byte {
	w := newWriter()
	w.writeByte(byte(v.Type))
	w.writeBool(v.Null)
	if v.Null {
		return w.bytes()
	}
	switch v.Type {
	case TypeBool:
		w.writeBool(v.Bool)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		w.writeVarint(v.Int)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		w.writeUvarint(v.Uint)
	case TypeFloat32, TypeFloat64:
		w.writeFloat64(v.Float)
	case TypeString:
		w.writeString(v.Str)
	case TypeBytes:
		w.writeBytes(v.Bytes)
	case TypeTimestamp:
		w.writeVarint(v.Timestamp)
	}
	return w.bytes()
}

// DecodeValue deserializes a Value produced by EncodeValue.
func DecodeValue(payload []byte) (Value, error) {
	r := newReader(payload)
	typb, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	v := Value{Type: ColumnType(typb)}
	isNull, err := r.readBool()
	if err != nil {
		return Value{}, err
	}
	v.Null = isNull
	if isNull {
		return v, nil
	}
	switch v.Type {
	case TypeBool:
		v.Bool, err = r.readBool()
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		v.Int, err = r.readVarint()
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		v.Uint, err = r.readUvarint()
	case TypeFloat32, TypeFloat64:
		v.Float, err = r.readFloat64()
	case TypeString:
		v.Str, err = r.readString()
	case TypeBytes:
		v.Bytes, err = r.readBytes()
	case TypeTimestamp:
		v.Timestamp, err = r.readVarint()
	default:
		return Value{}, fmt.Errorf("proto: unknown value type %d", typb)
	}
	return v, err
}
