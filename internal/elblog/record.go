// Package elblog parses classic Elastic Load Balancer access-log files and
// renders each row as an Apache combined-log style summary followed by the
// full record as JSON.
package elblog

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Field positions of the access-log schema. Files written before March 2015
// stop after FieldRequest; the remaining fields are then null.
const (
	FieldTimestamp = iota
	FieldELB
	FieldClient
	FieldBackend
	FieldRequestProcessingTime
	FieldBackendProcessingTime
	FieldResponseProcessingTime
	FieldELBStatusCode
	FieldBackendStatusCode
	FieldReceivedBytes
	FieldSentBytes
	FieldRequest
	FieldUserAgent
	FieldSSLCipher
	FieldSSLProtocol

	NumFields
)

// FieldNames lists the schema names in positional order.
var FieldNames = [NumFields]string{
	"timestamp",
	"elb",
	"client",
	"backend",
	"request_processing_time",
	"backend_processing_time",
	"response_processing_time",
	"elb_status_code",
	"backend_status_code",
	"received_bytes",
	"sent_bytes",
	"request",
	"user_agent",
	"ssl_cipher",
	"ssl_protocol",
}

const (
	timestampLayout = "2006-01-02T15:04:05.999999999Z"
	combinedLayout  = "02/Jan/2006:15:04:05 +0000"
)

var (
	ErrMissingField = errors.New("field is missing")
	ErrMalformed    = errors.New("field is malformed")
)

// ParseError reports a row that cannot be turned into a Record. It aborts
// processing of the whole file.
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("elblog: line %d: %s %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Record is one parsed access-log row. The JSON field order is the order
// the structured half of a rendered line is written in.
type Record struct {
	Timestamp              string  `json:"timestamp"`
	ELB                    *string `json:"elb"`
	Backend                *string `json:"backend"`
	RequestProcessingTime  *string `json:"request_processing_time"`
	BackendProcessingTime  *string `json:"backend_processing_time"`
	ResponseProcessingTime *string `json:"response_processing_time"`
	ELBStatusCode          Number  `json:"elb_status_code"`
	BackendStatusCode      Number  `json:"backend_status_code"`
	ReceivedBytes          Number  `json:"received_bytes"`
	SentBytes              Number  `json:"sent_bytes"`
	UserAgent              *string `json:"user_agent"`
	SSLCipher              *string `json:"ssl_cipher"`
	SSLProtocol            *string `json:"ssl_protocol"`
	ClientIP               string  `json:"client_ip"`
	ClientPort             string  `json:"client_port"`
	HTTPMethod             string  `json:"http_method"`
	RequestURI             string  `json:"request_uri"`
	HTTPVersion            string  `json:"http_version"`

	time time.Time
}

// Time is the parsed Timestamp in UTC.
func (r *Record) Time() time.Time { return r.time }

// ServerError reports whether the load balancer answered with a 5xx. A
// status that is not an integer is treated as unknown, not as a 5xx.
func (r *Record) ServerError() bool {
	code, ok := r.ELBStatusCode.Int64()
	return ok && code >= 500
}

// keep applies the errors-only filter. Records whose status could not be
// coerced are kept since they cannot be shown to be below 500.
func (r *Record) keep(onlyErrors bool) bool {
	if !onlyErrors {
		return true
	}
	code, ok := r.ELBStatusCode.Int64()
	return !ok || code >= 500
}

// newRecord builds a Record from positional fields. Fields beyond the
// schema are ignored, missing trailing fields become null.
func newRecord(line int, fields []string) (*Record, error) {
	at := func(i int) *string {
		if i < len(fields) {
			v := fields[i]
			return &v
		}
		return nil
	}

	ts := at(FieldTimestamp)
	if ts == nil {
		return nil, &ParseError{Line: line, Field: FieldNames[FieldTimestamp], Err: ErrMissingField}
	}
	t, err := time.Parse(timestampLayout, *ts)
	if err != nil {
		return nil, &ParseError{Line: line, Field: FieldNames[FieldTimestamp], Value: *ts, Err: err}
	}

	r := &Record{
		Timestamp:              *ts,
		ELB:                    at(FieldELB),
		Backend:                at(FieldBackend),
		RequestProcessingTime:  at(FieldRequestProcessingTime),
		BackendProcessingTime:  at(FieldBackendProcessingTime),
		ResponseProcessingTime: at(FieldResponseProcessingTime),
		ELBStatusCode:          ParseNumber(at(FieldELBStatusCode)),
		BackendStatusCode:      ParseNumber(at(FieldBackendStatusCode)),
		ReceivedBytes:          ParseNumber(at(FieldReceivedBytes)),
		SentBytes:              ParseNumber(at(FieldSentBytes)),
		UserAgent:              at(FieldUserAgent),
		SSLCipher:              at(FieldSSLCipher),
		SSLProtocol:            at(FieldSSLProtocol),
		time:                   t.UTC(),
	}

	if r.ClientIP, r.ClientPort, err = splitClient(at(FieldClient)); err != nil {
		return nil, &ParseError{Line: line, Field: FieldNames[FieldClient], Value: deref(at(FieldClient)), Err: err}
	}
	if r.HTTPMethod, r.RequestURI, r.HTTPVersion, err = splitRequest(at(FieldRequest)); err != nil {
		return nil, &ParseError{Line: line, Field: FieldNames[FieldRequest], Value: deref(at(FieldRequest)), Err: err}
	}
	return r, nil
}

// splitClient splits "ip:port" on the last colon.
func splitClient(v *string) (ip, port string, err error) {
	if v == nil {
		return "", "", ErrMissingField
	}
	i := strings.LastIndexByte(*v, ':')
	if i < 0 {
		return "", "", ErrMalformed
	}
	return (*v)[:i], (*v)[i+1:], nil
}

// splitRequest splits "METHOD URI VERSION"; anything but exactly three
// space-separated parts is malformed.
func splitRequest(v *string) (method, uri, version string, err error) {
	if v == nil {
		return "", "", "", ErrMissingField
	}
	parts := strings.Split(*v, " ")
	if len(parts) != 3 {
		return "", "", "", ErrMalformed
	}
	return parts[0], parts[1], parts[2], nil
}

// Summary renders the Apache combined-log style prefix of a line,
// including its trailing space.
func (r *Record) Summary() string {
	ua := deref(r.UserAgent)
	if ua == "" {
		ua = "-"
	}

	var sb strings.Builder
	sb.Grow(128 + len(r.RequestURI) + len(ua))
	sb.WriteString(r.ClientIP)
	sb.WriteByte(' ')
	sb.WriteString(orDash(r.ELB))
	sb.WriteString(" - [")
	sb.WriteString(r.time.Format(combinedLayout))
	sb.WriteString(`] "`)
	sb.WriteString(r.HTTPMethod)
	sb.WriteByte(' ')
	sb.WriteString(r.RequestURI)
	sb.WriteByte(' ')
	sb.WriteString(r.HTTPVersion)
	sb.WriteString(`" `)
	sb.WriteString(r.ELBStatusCode.String())
	sb.WriteByte(' ')
	sb.WriteString(r.SentBytes.String())
	sb.WriteString(` "" "`)
	sb.WriteString(ua)
	sb.WriteString(`" `)
	return sb.String()
}

// Render produces the output line: Summary immediately followed by the
// record as compact JSON.
func (r *Record) Render() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("elblog: encode record: %w", err)
	}
	return r.Summary() + string(data), nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func orDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

// Number is a field that is normally an integer. When the raw text does not
// parse it is kept verbatim; a missing field is null.
type Number struct {
	raw   *string
	value int64
	ok    bool
}

// ParseNumber coerces raw to an integer on a best-effort basis.
func ParseNumber(raw *string) Number {
	if raw == nil {
		return Number{}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64)
	if err != nil {
		return Number{raw: raw}
	}
	return Number{raw: raw, value: n, ok: true}
}

// IntNumber returns a Number holding v.
func IntNumber(v int64) Number {
	s := strconv.FormatInt(v, 10)
	return Number{raw: &s, value: v, ok: true}
}

// Int64 returns the integer value and whether coercion succeeded.
func (n Number) Int64() (int64, bool) { return n.value, n.ok }

// IsNull reports whether the field was absent.
func (n Number) IsNull() bool { return n.raw == nil }

// Raw returns the original text.
func (n Number) Raw() string { return deref(n.raw) }

func (n Number) String() string {
	switch {
	case n.ok:
		return strconv.FormatInt(n.value, 10)
	case n.raw == nil:
		return "-"
	default:
		return *n.raw
	}
}

func (n Number) MarshalJSON() ([]byte, error) {
	switch {
	case n.ok:
		return strconv.AppendInt(nil, n.value, 10), nil
	case n.raw == nil:
		return []byte("null"), nil
	default:
		return json.Marshal(*n.raw)
	}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = Number{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number{raw: &s}
		return nil
	default:
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("elblog: number %s: %w", data, err)
		}
		*n = IntNumber(v)
		return nil
	}
}
