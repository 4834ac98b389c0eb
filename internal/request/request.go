package request

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// Data is the serialized form of an HTTP request. All fields are plain
// values; Body is fully buffered.
type Data struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`

	// Fetch-style options carried alongside the request proper. net/http has
	// no native slot for these; they survive the round trip untouched so a
	// browser-facing gateway can honor them.
	Mode        string `json:"mode,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	Cache       string `json:"cache,omitempty"`
	Redirect    string `json:"redirect,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Integrity   string `json:"integrity,omitempty"`
}

// ErrNilRequest is returned by Capture when given a nil request.
var ErrNilRequest = errors.New("request: nil *http.Request")

// bodylessMethods never carry a payload; their body stream is not read.
var bodylessMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
}

// Capture drains r into a Data record. The request body, if any, is consumed.
func Capture(r *http.Request) (*Data, error) {
	if r == nil {
		return nil, ErrNilRequest
	}
	d := &Data{
		URL:      r.URL.String(),
		Method:   r.Method,
		Referrer: r.Referer(),
	}
	if len(r.Header) > 0 {
		d.Headers = make(map[string]string, len(r.Header))
		for name := range r.Header {
			d.Headers[name] = r.Header.Get(name)
		}
	}
	if !bodylessMethods[r.Method] && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		_ = r.Body.Close()
		d.Body = body
		// leave the original usable for callers that retain it
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	return d, nil
}

// Rebuild constructs a live request from the record. Each call attaches a
// fresh body reader, so the same record can be re-issued repeatedly.
func (d *Data) Rebuild(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	r, err := http.NewRequestWithContext(ctx, d.Method, d.URL, body)
	if err != nil {
		return nil, err
	}
	for name, value := range d.Headers {
		r.Header.Set(name, value)
	}
	if d.Referrer != "" {
		r.Header.Set("Referer", d.Referrer)
	}
	if len(d.Body) > 0 {
		r.ContentLength = int64(len(d.Body))
	}
	return r, nil
}

// Clone returns a deep copy of the record.
func (d *Data) Clone() *Data {
	nd := *d
	if d.Headers != nil {
		nd.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			nd.Headers[k] = v
		}
	}
	if d.Body != nil {
		nd.Body = append([]byte(nil), d.Body...)
	}
	return &nd
}
