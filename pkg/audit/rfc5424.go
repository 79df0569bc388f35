package audit

import (
	"bytes"
	"strconv"
	"time"
)

// Facility represents RFC 5424 syslog facility codes.
type Facility int

const (
	FacUser   Facility = 1
	FacLocal0 Facility = 16
	FacLocal1 Facility = 17
)

// sdID is the structured data element id carried by every record.
const sdID = "shm@32473"

// SDParam is a single key-value parameter within a structured data element.
type SDParam struct {
	Name  string
	Value string
}

// SDElement is a structured data element with an ID and parameters.
type SDElement struct {
	ID     string
	Params []SDParam
}

// Message represents an RFC 5424 syslog message.
type Message struct {
	Facility  Facility
	Severity  Severity
	Timestamp time.Time
	Hostname  string
	AppName   string
	ProcessID string // "" renders as NILVALUE
	MessageID string // the record type
	SD        []SDElement
	Text      string
}

// Header field limits from RFC 5424 section 6.
const (
	maxHostname = 255
	maxAppName  = 48
	maxProcID   = 128
	maxMsgID    = 32
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatMessage serializes m to RFC 5424 wire format without a trailing
// newline.
func FormatMessage(m Message) []byte {
	var b bytes.Buffer
	b.Grow(320)

	b.WriteByte('<')
	b.WriteString(strconv.Itoa(int(m.Facility)*8 + int(m.Severity)))
	b.WriteString(">1 ")

	if m.Timestamp.IsZero() {
		b.WriteByte('-')
	} else {
		b.WriteString(m.Timestamp.UTC().Format(timestampLayout))
	}

	for _, f := range [...]struct {
		v   string
		max int
	}{
		{m.Hostname, maxHostname},
		{m.AppName, maxAppName},
		{m.ProcessID, maxProcID},
		{m.MessageID, maxMsgID},
	} {
		b.WriteByte(' ')
		writeHeaderField(&b, f.v, f.max)
	}

	b.WriteByte(' ')
	if len(m.SD) == 0 {
		b.WriteByte('-')
	}
	for _, elem := range m.SD {
		b.WriteByte('[')
		b.WriteString(elem.ID)
		for _, p := range elem.Params {
			b.WriteByte(' ')
			b.WriteString(p.Name)
			b.WriteString(`="`)
			writeParamValue(&b, p.Value)
			b.WriteByte('"')
		}
		b.WriteByte(']')
	}

	if m.Text != "" {
		b.WriteByte(' ')
		b.WriteString(m.Text)
	}
	return b.Bytes()
}

// writeHeaderField writes v truncated to max bytes, or NILVALUE when empty.
// Header fields must be printable US-ASCII; anything else is replaced by '_'.
func writeHeaderField(b *bytes.Buffer, v string, max int) {
	if v == "" {
		b.WriteByte('-')
		return
	}
	if len(v) > max {
		v = v[:max]
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 33 || c > 126 {
			c = '_'
		}
		b.WriteByte(c)
	}
}

// writeParamValue escapes '"', '\' and ']' per RFC 5424 section 6.3.3.
func writeParamValue(b *bytes.Buffer, v string) {
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"', '\\', ']':
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
}

// recordParams flattens r into structured data parameters in a stable order.
func recordParams(r Record) []SDParam {
	params := []SDParam{
		{Name: "actor", Value: r.ActorID},
		{Name: "resource", Value: r.Resource},
	}
	if r.Role != "" {
		params = append(params, SDParam{Name: "role", Value: r.Role})
	}
	if r.RequestID != "" {
		params = append(params, SDParam{Name: "request_id", Value: r.RequestID})
	}
	for _, k := range sortedKeys(r.Details) {
		params = append(params, SDParam{Name: k, Value: r.Details[k]})
	}
	return params
}
