package proto

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Kind: KindQueryRequest, ReqID: 42, Payload: []byte("select 1")},
		{Kind: KindDone, ReqID: 7, Payload: nil},
		{Kind: KindErrorFrame, ReqID: 1, Payload: []byte{1, 2, 3}},
	}
	for _, f := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, f))
		got, err := ReadFrame(bufio.NewReader(&buf))
		require.NoError(t, err)
		require.Equal(t, f.Kind, got.Kind)
		require.Equal(t, f.ReqID, got.ReqID)
		require.Equal(t, f.Payload, got.Payload)
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	s := Schema{
		{Name: "ts", Type: TypeTimestamp},
		{Name: "value", Type: TypeFloat64},
		{Name: "name", Type: TypeString},
	}
	got, err := DecodeSchema(EncodeSchema(s))
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestPageRoundTripAllTypes(t *testing.T) {
	p := Page{Columns: []Column{
		{Name: "b", Type: TypeBool, Bools: []bool{true, false, true}},
		{Name: "i", Type: TypeInt64, Ints: []int64{-3, 0, 42}},
		{Name: "u", Type: TypeUint32, Uints: []uint64{1, 2, 3}},
		{Name: "f", Type: TypeFloat64, Floats: []float64{1.5, -2.25, 0}},
		{Name: "s", Type: TypeString, Strings: []string{"a", "", "bc"}, Nulls: []bool{false, true, false}},
		{Name: "by", Type: TypeBytes, Bytes: [][]byte{{1, 2}, {}, {9}}},
		{Name: "t", Type: TypeTimestamp, Timestamps: []int64{1, 2, 3}},
	}}
	got, err := DecodePage(EncodePage(p))
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestValueRoundTrip(t *testing.T) {
	values := []Value{
		StringValue("hello"),
		IntValue(-123),
		FloatValue(3.14),
		BoolValue(true),
		NullValue(TypeString),
		{Type: TypeUint64, Uint: 99},
		{Type: TypeBytes, Bytes: []byte{1, 2, 3}},
		{Type: TypeTimestamp, Timestamp: 1234567890},
	}
	for _, v := range values {
		got, err := DecodeValue(EncodeValue(v))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestErrorFrameRoundTrip(t *testing.T) {
	e := NewError(ErrAuthRequired, "missing credentials for %s", "query")
	got, err := DecodeErrorFrame(ErrorFramePayload(e))
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestRequestRoundTrips(t *testing.T) {
	qr := QueryRequest{Text: "SELECT * FROM system.process"}
	gotQR, err := DecodeQueryRequest(EncodeQueryRequest(qr))
	require.NoError(t, err)
	require.Equal(t, qr, gotQR)

	er := EvalRequest{Code: "1+2", CaptureStdout: true, TimeoutSeconds: 5}
	gotER, err := DecodeEvalRequest(EncodeEvalRequest(er))
	require.NoError(t, err)
	require.Equal(t, er, gotER)

	br := BacktraceRequest{HasTID: true, TID: 7}
	gotBR, err := DecodeBacktraceRequest(EncodeBacktraceRequest(br))
	require.NoError(t, err)
	require.Equal(t, br, gotBR)

	cr := ConfigRequest{Pairs: []ConfigPair{{Key: "script.sampler.interval_ms", Value: "10"}}, List: true, Prefix: "script."}
	gotCR, err := DecodeConfigRequest(EncodeConfigRequest(cr))
	require.NoError(t, err)
	require.Equal(t, cr, gotCR)

	ir := InjectRequest{Options: []ConfigPair{{Key: "a", Value: "b"}}}
	gotIR, err := DecodeInjectRequest(EncodeInjectRequest(ir))
	require.NoError(t, err)
	require.Equal(t, ir, gotIR)

	cres := ConfigResult{Listed: []OptionEntry{{Key: "k", Value: "v", Owner: "owner", HelpText: "help"}}}
	gotCRes, err := DecodeConfigResult(EncodeConfigResult(cres))
	require.NoError(t, err)
	require.Equal(t, cres, gotCRes)

	call := CallRequest{Path: "/series/append", Params: map[string]string{"name": "loss", "ts": "1"}, Body: []byte{7}}
	gotCall, err := DecodeCallRequest(EncodeCallRequest(call))
	require.NoError(t, err)
	require.Equal(t, call, gotCall)

	hr := HelloRequest{Kind: CredentialBearer, Secret: "tok"}
	gotHR, err := DecodeHelloRequest(EncodeHelloRequest(hr))
	require.NoError(t, err)
	require.Equal(t, hr, gotHR)
}
