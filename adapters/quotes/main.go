// Command quotes is an exec adapter that answers market data requests from a
// JSON fixture file. It speaks protocol v1: one request on stdin, one
// response on stdout.
//
// Request payload:
//
//	{"kind": "realtime" | "historical", "security": "AAPL US Equity",
//	 "attributes": "OPEN HIGH LOW PX_LAST VOLUME",
//	 "start_date": "20260101", "end_date": "20260131"}
//
// The fixture path comes from $QUOTES_FIXTURE.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/spool/internal/protocol"
)

const (
	defaultAttributes = "OPEN HIGH LOW PX_LAST VOLUME"
	dateLayout        = "20060102"
	fixtureEnv        = "QUOTES_FIXTURE"
)

var ohlcFields = strings.Fields(defaultAttributes)

// fixture maps a security to its quote history.
type fixture map[string]security

type security struct {
	Currency string            `json:"currency"`
	Fields   map[string]string `json:"fields,omitempty"`
	History  []bar             `json:"history"`
}

// bar is one trading day; missing fields are null.
type bar struct {
	Date   string              `json:"date"`
	Values map[string]*float64 `json:"values"`
}

type quoteRequest struct {
	Historic   bool
	Security   string
	Attributes []string
	Start, End time.Time
}

type quoteResult struct {
	Security string `json:"security"`
	Data     any    `json:"data"`
}

func main() {
	resp := handle(os.Getenv(fixtureEnv))
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(fixturePath string) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}

	fx, err := loadFixture(fixturePath)
	if err != nil {
		return errResp(err.Error())
	}
	return answer(req, fx)
}

func answer(req protocol.Request, fx fixture) protocol.Response {
	qr, err := parseRequest(req.Payload)
	if err != nil {
		return errResp(err.Error())
	}

	sec, ok := fx[qr.Security]
	if !ok {
		return errResp(fmt.Sprintf("unknown security %q", qr.Security))
	}

	var data any
	switch {
	case qr.Historic:
		data = historical(sec, qr)
	case isOHLC(qr.Attributes):
		data, err = realtime(sec, qr)
	default:
		data = reference(sec, qr)
	}
	if err != nil {
		return errResp(err.Error())
	}

	result, err := json.Marshal(quoteResult{Security: qr.Security, Data: data})
	if err != nil {
		return errResp(fmt.Sprintf("encode result: %v", err))
	}
	return protocol.Response{
		Status: "ok",
		Result: result,
		Logs:   []protocol.LogEntry{info(fmt.Sprintf("%s %s for %s", kindName(qr), strings.Join(qr.Attributes, ","), req.Key))},
	}
}

func parseRequest(p map[string]any) (quoteRequest, error) {
	var qr quoteRequest

	kind := asString(p["kind"])
	switch kind {
	case "realtime":
	case "historical":
		qr.Historic = true
	default:
		return qr, fmt.Errorf("kind must be realtime or historical (got %q)", kind)
	}

	qr.Security = asString(p["security"])
	if qr.Security == "" {
		// older producers name the field after the data vendor
		qr.Security = asString(p["bloomberg_code"])
	}
	if qr.Security == "" {
		return qr, fmt.Errorf("security is required")
	}

	attrs := asString(p["attributes"])
	if attrs == "" {
		attrs = defaultAttributes
	}
	qr.Attributes = strings.Fields(attrs)

	if qr.Historic {
		var err error
		if qr.Start, err = time.Parse(dateLayout, asString(p["start_date"])); err != nil {
			return qr, fmt.Errorf("start_date must be YYYYMMDD")
		}
		if qr.End, err = time.Parse(dateLayout, asString(p["end_date"])); err != nil {
			return qr, fmt.Errorf("end_date must be YYYYMMDD")
		}
		if qr.End.Before(qr.Start) {
			return qr, fmt.Errorf("end_date is before start_date")
		}
	}
	return qr, nil
}

func isOHLC(attrs []string) bool {
	for _, a := range attrs {
		if !slices.Contains(ohlcFields, a) {
			return false
		}
	}
	return true
}

// realtime returns the latest bar's values plus CRNCY. Attributes the bar
// has no value for are left out.
func realtime(sec security, qr quoteRequest) (map[string]any, error) {
	if len(sec.History) == 0 {
		return nil, fmt.Errorf("no quotes for %q", qr.Security)
	}
	latest := sec.History[len(sec.History)-1]

	out := map[string]any{"CRNCY": sec.Currency}
	for _, a := range qr.Attributes {
		if v := latest.Values[a]; v != nil {
			out[a] = *v
		}
	}
	return out, nil
}

// historical returns columns keyed by attribute plus "date", newest first.
// Days missing any requested attribute are dropped.
func historical(sec security, qr quoteRequest) map[string][]any {
	cols := map[string][]any{"date": {}}
	for _, a := range qr.Attributes {
		cols[a] = []any{}
	}

	for i := len(sec.History) - 1; i >= 0; i-- {
		b := sec.History[i]
		day, err := time.Parse(time.DateOnly, b.Date)
		if err != nil || day.Before(qr.Start) || day.After(qr.End) {
			continue
		}
		complete := true
		for _, a := range qr.Attributes {
			if b.Values[a] == nil {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		cols["date"] = append(cols["date"], b.Date)
		for _, a := range qr.Attributes {
			cols[a] = append(cols[a], *b.Values[a])
		}
	}
	return cols
}

// reference returns static, non-price fields as strings.
func reference(sec security, qr quoteRequest) map[string]string {
	out := make(map[string]string, len(qr.Attributes))
	for _, a := range qr.Attributes {
		if v, ok := sec.Fields[a]; ok {
			out[a] = v
		}
	}
	return out
}

func loadFixture(path string) (fixture, error) {
	if path == "" {
		return nil, fmt.Errorf("%s is not set", fixtureEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return fx, nil
}

func kindName(qr quoteRequest) string {
	if qr.Historic {
		return "historical"
	}
	return "realtime"
}

func info(msg string) protocol.LogEntry {
	return protocol.LogEntry{Level: "info", Message: msg}
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  message,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
