package check

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"
)

// TransportStatus describes how the underlying call ended.
type TransportStatus string

const (
	TransportOK                  TransportStatus = "ok"
	TransportTimeout             TransportStatus = "timeout"
	TransportConnectionError     TransportStatus = "connection_error"
	TransportUnexpectedException TransportStatus = "unexpected_exception"
)

// Outcome is the unscored result of a check action.
type Outcome struct {
	Transport  TransportStatus
	StatusCode int // only set when Transport is TransportOK
	Header     http.Header
	Body       []byte
	JSON       any    // decoded body when the content type is JSON
	ParseError string // set when a JSON body could not be decoded
	Latency    time.Duration
	Err        string // transport failure description
	CertExpiry *time.Time
	Attempts   int
}

// OK reports whether the call completed at the transport level.
func (o *Outcome) OK() bool {
	return o != nil && o.Transport == TransportOK
}

// Text returns the body as a string.
func (o *Outcome) Text() string {
	if o == nil {
		return ""
	}
	return string(o.Body)
}

// Failed builds an outcome for a transport-level failure.
func Failed(status TransportStatus, latency time.Duration, msg string) *Outcome {
	return &Outcome{
		Transport: status,
		Header:    http.Header{},
		Latency:   latency,
		Err:       msg,
	}
}

// Response builds a successful outcome and decodes the body when the
// content type says it is JSON. A decode failure is recorded, not returned.
func Response(statusCode int, header http.Header, body []byte, latency time.Duration) *Outcome {
	if header == nil {
		header = http.Header{}
	}
	o := &Outcome{
		Transport:  TransportOK,
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
		Latency:    latency,
	}
	if IsJSONContentType(header.Get("Content-Type")) && len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			o.ParseError = err.Error()
		} else {
			o.JSON = v
		}
	}
	return o
}

// IsJSONContentType matches application/json and +json media types.
func IsJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
