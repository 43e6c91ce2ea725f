package proto

// QueryRequest carries a single SQL-like query string.
type QueryRequest struct {
	Text string
}

func EncodeQueryRequest(r QueryRequest) []byte {
	w := newWriter()
	w.writeString(r.Text)
	return w.bytes()
}

func DecodeQueryRequest(payload []byte) (QueryRequest, error) {
	r := newReader(payload)
	text, err := r.readString()
	if err != nil {
		return QueryRequest{}, err
	}
	return QueryRequest{Text: text}, nil
}

// EvalRequest carries a code snippet to run inside the host interpreter.
type EvalRequest struct {
	Code           string
	CaptureStdout  bool
	TimeoutSeconds uint32
}

func EncodeEvalRequest(r EvalRequest) []byte {
	w := newWriter()
	w.writeString(r.Code)
	w.writeBool(r.CaptureStdout)
	w.writeUvarint(uint64(r.TimeoutSeconds))
	return w.bytes()
}

func DecodeEvalRequest(payload []byte) (EvalRequest, error) {
	r := newReader(payload)
	code, err := r.readString()
	if err != nil {
		return EvalRequest{}, err
	}
	capture, err := r.readBool()
	if err != nil {
		return EvalRequest{}, err
	}
	timeout, err := r.readUvarint()
	if err != nil {
		return EvalRequest{}, err
	}
	return EvalRequest{Code: code, CaptureStdout: capture, TimeoutSeconds: uint32(timeout)}, nil
}

// BacktraceRequest optionally restricts capture to a single goroutine
// id; HasTID false means "main thread".
type BacktraceRequest struct {
	HasTID bool
	TID    int64
}

func EncodeBacktraceRequest(r BacktraceRequest) []byte {
	w := newWriter()
	w.writeBool(r.HasTID)
	if r.HasTID {
		w.writeVarint(r.TID)
	}
	return w.bytes()
}

func DecodeBacktraceRequest(payload []byte) (BacktraceRequest, error) {
	r := newReader(payload)
	has, err := r.readBool()
	if err != nil {
		return BacktraceRequest{}, err
	}
	out := BacktraceRequest{HasTID: has}
	if has {
		if out.TID, err = r.readVarint(); err != nil {
			return BacktraceRequest{}, err
		}
	}
	return out, nil
}

// ConfigPair is one key=value option assignment.
type ConfigPair struct {
	Key   string
	Value string
}

// ConfigRequest sets zero or more options and optionally lists options
// matching a key prefix.
type ConfigRequest struct {
	Pairs  []ConfigPair
	List   bool
	Prefix string
}

func EncodeConfigRequest(r ConfigRequest) []byte {
	w := newWriter()
	w.writeUvarint(uint64(len(r.Pairs)))
	for _, p := range r.Pairs {
		w.writeString(p.Key)
		w.writeString(p.Value)
	}
	w.writeBool(r.List)
	w.writeString(r.Prefix)
	return w.bytes()
}

func DecodeConfigRequest(payload []byte) (ConfigRequest, error) {
	r := newReader(payload)
	n, err := r.readUvarint()
	if err != nil {
		return ConfigRequest{}, err
	}
	out := ConfigRequest{Pairs: make([]ConfigPair, 0, n)}
	for i := uint64(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return ConfigRequest{}, err
		}
		v, err := r.readString()
		if err != nil {
			return ConfigRequest{}, err
		}
		out.Pairs = append(out.Pairs, ConfigPair{Key: k, Value: v})
	}
	if out.List, err = r.readBool(); err != nil {
		return ConfigRequest{}, err
	}
	if out.Prefix, err = r.readString(); err != nil {
		return ConfigRequest{}, err
	}
	return out, nil
}

// CredentialKind tags which form of credential a HelloRequest carries;
// the command server's auth middleware accepts any of the three.
type CredentialKind uint8

const (
	CredentialNone CredentialKind = iota
	CredentialBasic
	CredentialBearer
	CredentialCustomHeader
)

// HelloRequest is the first frame a session sends on a new connection.
// Authentication in this protocol is negotiated once per session (the
// data model's Session carries "an optional authenticated principal"),
// rather than re-checked on every subsequent request frame.
type HelloRequest struct {
	Kind     CredentialKind
	Username string
	Secret   string // password (basic) or token (bearer/custom-header)
	Header   string // header name, only meaningful for CredentialCustomHeader
}

func EncodeHelloRequest(r HelloRequest) []byte {
	w := newWriter()
	w.writeByte(byte(r.Kind))
	w.writeString(r.Username)
	w.writeString(r.Secret)
	w.writeString(r.Header)
	return w.bytes()
}

func DecodeHelloRequest(payload []byte) (HelloRequest, error) {
	r := newReader(payload)
	kind, err := r.readByte()
	if err != nil {
		return HelloRequest{}, err
	}
	out := HelloRequest{Kind: CredentialKind(kind)}
	if out.Username, err = r.readString(); err != nil {
		return HelloRequest{}, err
	}
	if out.Secret, err = r.readString(); err != nil {
		return HelloRequest{}, err
	}
	if out.Header, err = r.readString(); err != nil {
		return HelloRequest{}, err
	}
	return out, nil
}

// HelloResult acknowledges a successful HelloRequest. A rejected one is
// reported as a KindErrorFrame (AuthRequired or Forbidden) instead.
type HelloResult struct {
	Principal string
}

func EncodeHelloResult(r HelloResult) []byte {
	w := newWriter()
	w.writeString(r.Principal)
	return w.bytes()
}

func DecodeHelloResult(payload []byte) (HelloResult, error) {
	r := newReader(payload)
	p, err := r.readString()
	if err != nil {
		return HelloResult{}, err
	}
	return HelloResult{Principal: p}, nil
}

// InjectRequest updates options on an already-loaded agent (used when the
// CLI re-targets a process instead of re-injecting).
type InjectRequest struct {
	Options []ConfigPair
}

func EncodeInjectRequest(r InjectRequest) []byte {
	w := newWriter()
	w.writeUvarint(uint64(len(r.Options)))
	for _, p := range r.Options {
		w.writeString(p.Key)
		w.writeString(p.Value)
	}
	return w.bytes()
}

func DecodeInjectRequest(payload []byte) (InjectRequest, error) {
	r := newReader(payload)
	n, err := r.readUvarint()
	if err != nil {
		return InjectRequest{}, err
	}
	out := InjectRequest{Options: make([]ConfigPair, 0, n)}
	for i := uint64(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return InjectRequest{}, err
		}
		v, err := r.readString()
		if err != nil {
			return InjectRequest{}, err
		}
		out.Options = append(out.Options, ConfigPair{Key: k, Value: v})
	}
	return out, nil
}

// ConfigResult is the response to a ConfigRequest.
type ConfigResult struct {
	Listed []OptionEntry
}

// OptionEntry describes one registered option, per Registry.ListOptions.
type OptionEntry struct {
	Key      string
	Value    string
	Owner    string
	HelpText string
}

func EncodeConfigResult(r ConfigResult) []byte {
	w := newWriter()
	w.writeUvarint(uint64(len(r.Listed)))
	for _, e := range r.Listed {
		w.writeString(e.Key)
		w.writeString(e.Value)
		w.writeString(e.Owner)
		w.writeString(e.HelpText)
	}
	return w.bytes()
}

func DecodeConfigResult(payload []byte) (ConfigResult, error) {
	r := newReader(payload)
	n, err := r.readUvarint()
	if err != nil {
		return ConfigResult{}, err
	}
	out := ConfigResult{Listed: make([]OptionEntry, 0, n)}
	for i := uint64(0); i < n; i++ {
		var e OptionEntry
		if e.Key, err = r.readString(); err != nil {
			return ConfigResult{}, err
		}
		if e.Value, err = r.readString(); err != nil {
			return ConfigResult{}, err
		}
		if e.Owner, err = r.readString(); err != nil {
			return ConfigResult{}, err
		}
		if e.HelpText, err = r.readString(); err != nil {
			return ConfigResult{}, err
		}
		out.Listed = append(out.Listed, e)
	}
	return out, nil
}
