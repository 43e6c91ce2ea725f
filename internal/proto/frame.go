package proto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Kind tags the payload carried by a Frame.
type Kind uint8

const (
	KindQueryRequest Kind = iota + 1
	KindEvalRequest
	KindBacktraceRequest
	KindConfigRequest
	KindInjectRequest
	KindHelloRequest
	KindCallRequest

	KindSchema
	KindPage
	KindDone
	KindErrorFrame
	KindBytesResult
	KindConfigResult
	KindHelloResult
)

// MaxFrameLength bounds the declared payload length of a single frame
// before any bytes are read, independent of the configurable request
// body size cap enforced by the command server's size-limit middleware.
// It exists purely to stop a malformed length field from causing an
// unbounded allocation.
const MaxFrameLength = 512 << 20 // 512MiB hard ceiling

// Frame is one unit of the wire protocol: a 4-byte big-endian length
// (of Payload only), a 1-byte kind tag, a 4-byte request id, and the
// payload itself.
type Frame struct {
	Kind    Kind
	ReqID   uint32
	Payload []byte
}

const frameHeaderLen = 4 + 1 + 4

// WriteFrame writes f to w in the wire format.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameLength {
		return fmt.Errorf("proto: payload %d bytes exceeds max frame length %d", len(f.Payload), MaxFrameLength)
	}
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Payload)))
	hdr[4] = byte(f.Kind)
	binary.BigEndian.PutUint32(hdr[5:9], f.ReqID)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// PeekFrameHeader reads only the frame header and returns the declared
// payload length, kind and request id without consuming the payload.
// Callers that want to enforce a size cap before allocating a buffer
// call this first.
func PeekFrameHeader(r *bufio.Reader) (payloadLen int, kind Kind, reqID uint32, err error) {
	var hdr [frameHeaderLen]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, 0, err
	}
	payloadLen = int(binary.BigEndian.Uint32(hdr[0:4]))
	kind = Kind(hdr[4])
	reqID = binary.BigEndian.Uint32(hdr[5:9])
	return payloadLen, kind, reqID, nil
}

// ReadFramePayload reads exactly n bytes of payload following a header
// already consumed by PeekFrameHeader.
func ReadFramePayload(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFrame reads a complete frame (header + payload) from r, applying
// MaxFrameLength as an unconditional ceiling. Request-size-cap
// enforcement (the configurable, option-driven limit) happens one layer
// up in the command server so it can reject before this call even
// begins reading the payload.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	n, kind, reqID, err := PeekFrameHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if n < 0 || n > MaxFrameLength {
		return Frame{}, fmt.Errorf("proto: declared frame length %d out of bounds", n)
	}
	payload, err := ReadFramePayload(r, n)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, ReqID: reqID, Payload: payload}, nil
}

// ErrorFramePayload encodes e as the payload of a KindErrorFrame.
func ErrorFramePayload(e *Error) []byte {
	w := newWriter()
	w.writeByte(byte(e.Category))
	w.writeString(e.Message)
	return w.bytes()
}

// DecodeErrorFrame decodes the payload of a KindErrorFrame.
func DecodeErrorFrame(payload []byte) (*Error, error) {
	r := newReader(payload)
	cat, err := r.readByte()
	if err != nil {
		return nil, err
	}
	msg, err := r.readString()
	if err != nil {
		return nil, err
	}
	return &Error{Category: ErrorCategory(cat), Message: msg}, nil
}
