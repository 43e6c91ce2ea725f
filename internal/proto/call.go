package proto

import "sort"

// CallRequest addresses a command extension by path: the transport for
// dispatch_call (flamegraph rendering, static file serving, series
// appends). Params carry the parsed query-string-style arguments.
type CallRequest struct {
	Path   string
	Params map[string]string
	Body   []byte
}

func EncodeCallRequest(r CallRequest) []byte {
	w := newWriter()
	w.writeString(r.Path)
	w.writeUvarint(uint64(len(r.Params)))
	keys := sortedKeys(r.Params)
	for _, k := range keys {
		w.writeString(k)
		w.writeString(r.Params[k])
	}
	w.writeBytes(r.Body)
	return w.bytes()
}

func DecodeCallRequest(payload []byte) (CallRequest, error) {
	r := newReader(payload)
	path, err := r.readString()
	if err != nil {
		return CallRequest{}, err
	}
	n, err := r.readUvarint()
	if err != nil {
		return CallRequest{}, err
	}
	out := CallRequest{Path: path, Params: make(map[string]string, n)}
	for i := uint64(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return CallRequest{}, err
		}
		v, err := r.readString()
		if err != nil {
			return CallRequest{}, err
		}
		out.Params[k] = v
	}
	if out.Body, err = r.readBytes(); err != nil {
		return CallRequest{}, err
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
