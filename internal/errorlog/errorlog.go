// Package errorlog recognizes the three error-log shapes named in
// spec.md §4.2: Apache-style error lines, Nginx-style error lines, and
// ModSecurity audit records. Unlike the access-log parser, all three
// recognizers are tried on every line regardless of site format, since
// error logs do not carry a per-site format nomination.
//
// Grounded on the Apache/Nginx error-line shapes documented in
// allensuvorov-tenexlog's header comments and on the regex-capture-group
// discipline of nekrassov01-access-log-parser's RegexParser (named
// capture groups validated at pattern-construction time).
package errorlog

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/allensuvorov/logamizer/internal/model"
)

// ParseLineError mirrors accesslog.ParseLineError for error-log lines.
type ParseLineError struct {
	Line   int
	Reason string
}

func (e *ParseLineError) Error() string {
	return "parse error-log line " + strconv.Itoa(e.Line) + ": " + e.Reason
}

// apacheErrorPattern matches:
//
//	[Day Mon DD HH:MM:SS.us YYYY] [module:level] [pid NNN] [client ip:port] message
var apacheErrorPattern = regexp.MustCompile(
	`^\[(\w{3} \w{3} +\d{1,2} \d{2}:\d{2}:\d{2}(?:\.\d+)? \d{4})\] \[([\w-]+):(\w+)\] \[pid (\d+)(?::tid \d+)?\](?: \[client ([^\]:]+)(?::(\d+))?\])? (.*)$`,
)

const apacheErrorTimeLayoutNoFrac = "Mon Jan 2 15:04:05 2006"

// nginxErrorPattern matches:
//
//	YYYY/MM/DD HH:MM:SS [level] pid#tid: *cid message
var nginxErrorPattern = regexp.MustCompile(
	`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}) \[(\w+)\] (\d+)#(\d+): (?:\*(\d+) )?(.*)$`,
)

const nginxErrorTimeLayout = "2006/01/02 15:04:05"

// modSecurityMarker identifies a ModSecurity audit record line; ModSecurity
// embeds its structured fields as bracketed key/value tokens within an
// otherwise free-form Apache error line.
var modSecurityMarker = regexp.MustCompile(`ModSecurity:`)
var modSecField = regexp.MustCompile(`\[(id|msg|severity|uri|client)\s+"([^"]*)"\]`)

// Parse tries Apache, then Nginx, then ModSecurity (ModSecurity records are
// themselves Apache-error-prefixed, so it is checked after the generic
// Apache match to extract the richer fields when present).
func Parse(lineNo int, text string) (model.ErrorOccurrence, error) {
	if oc, ok := parseApache(lineNo, text); ok {
		return oc, nil
	}
	if oc, ok := parseNginx(lineNo, text); ok {
		return oc, nil
	}
	return model.ErrorOccurrence{}, &ParseLineError{Line: lineNo, Reason: "no recognizer matched"}
}

func parseApache(lineNo int, text string) (model.ErrorOccurrence, bool) {
	m := apacheErrorPattern.FindStringSubmatch(text)
	if m == nil {
		return model.ErrorOccurrence{}, false
	}
	ts := parseApacheTime(m[1])
	module, level, message := m[2], m[3], m[7]
	ip := m[5]

	oc := model.ErrorOccurrence{
		Timestamp:  ts,
		ErrorType:  module + ":" + level,
		Message:    message,
		IP:         ip,
		LineNumber: lineNo,
		Raw:        text,
	}

	if modSecurityMarker.MatchString(message) {
		applyModSecurityFields(&oc, message)
	}
	return oc, true
}

func applyModSecurityFields(oc *model.ErrorOccurrence, message string) {
	oc.ErrorType = "modsecurity"
	fields := modSecField.FindAllStringSubmatch(message, -1)
	ctx := make(map[string]string, len(fields))
	for _, f := range fields {
		key, val := f[1], f[2]
		switch key {
		case "msg":
			oc.Message = val
		case "uri":
			oc.RequestURL = val
		case "client":
			oc.IP = val
		default:
			ctx[key] = val
		}
	}
	if len(ctx) > 0 {
		oc.Context = ctx
	}
}

func parseApacheTime(raw string) time.Time {
	// Drop the optional fractional-seconds component (".123456") before
	// parsing; Go's reference-time layout requires an exact fixed digit
	// count for fractions, which Apache does not guarantee.
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		end := dot + 1
		for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
			end++
		}
		raw = raw[:dot] + raw[end:]
	}
	ts, err := time.Parse(apacheErrorTimeLayoutNoFrac, normalizeMonthSpacing(raw))
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// normalizeMonthSpacing collapses the double space Apache uses before a
// single-digit day ("Oct  1") to the single space time.Parse expects.
func normalizeMonthSpacing(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseNginx(lineNo int, text string) (model.ErrorOccurrence, bool) {
	m := nginxErrorPattern.FindStringSubmatch(text)
	if m == nil {
		return model.ErrorOccurrence{}, false
	}
	ts, err := time.Parse(nginxErrorTimeLayout, m[1])
	if err != nil {
		return model.ErrorOccurrence{}, false
	}
	level, message := m[2], m[6]
	oc := model.ErrorOccurrence{
		Timestamp:  ts.UTC(),
		ErrorType:  "nginx:" + level,
		Message:    message,
		LineNumber: lineNo,
		Raw:        text,
	}
	if ip := extractNginxClientIP(message); ip != "" {
		oc.IP = ip
	}
	return oc, true
}

var nginxClientPattern = regexp.MustCompile(`client: ([0-9a-fA-F.:]+)`)

func extractNginxClientIP(message string) string {
	m := nginxClientPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return m[1]
}
