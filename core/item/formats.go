package item

import (
	"encoding/base64"
	"unicode/utf8"
)

// Raw exports an arbitrary value under a caller chosen name.
type Raw struct {
	Key   string
	Value any
}

func (r Raw) Name() string { return r.Key }
func (r Raw) Export() any  { return r.Value }

// HTTPResponse is the body of a response delivered to a held HTTP request.
type HTTPResponse struct {
	Code    int
	Reason  string
	Headers map[string]string
	Body    []byte
}

func (HTTPResponse) Name() string { return "http-response" }

func (h HTTPResponse) Export() any {
	out := h.headerFields()
	if len(h.Body) > 0 {
		if utf8.Valid(h.Body) {
			out["body"] = string(h.Body)
		} else {
			out["body-bin"] = base64.StdEncoding.EncodeToString(h.Body)
		}
	}
	return out
}

// ExportForBus keeps binary bodies as raw bytes.
func (h HTTPResponse) ExportForBus() any {
	out := h.headerFields()
	if len(h.Body) > 0 {
		out["body"] = h.Body
	}
	return out
}

func (h HTTPResponse) headerFields() map[string]any {
	out := map[string]any{}
	if h.Code > 0 {
		out["code"] = h.Code
	}
	if h.Reason != "" {
		out["reason"] = h.Reason
	}
	if len(h.Headers) > 0 {
		out["headers"] = h.Headers
	}
	return out
}

// HTTPStream is a chunk appended to an open HTTP stream. Close ends the
// stream instead of sending content.
type HTTPStream struct {
	Content []byte
	Close   bool
}

func (HTTPStream) Name() string { return "http-stream" }

func (s HTTPStream) Export() any {
	if s.Close {
		return map[string]any{"action": "close"}
	}
	if utf8.Valid(s.Content) {
		return map[string]any{"content": string(s.Content)}
	}
	return map[string]any{"content-bin": base64.StdEncoding.EncodeToString(s.Content)}
}

func (s HTTPStream) ExportForBus() any {
	if s.Close {
		return map[string]any{"action": "close"}
	}
	return map[string]any{"content": s.Content}
}
