package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid request",
			req: &Request{
				Protocol:   Version,
				RequestID:  "9f0c",
				Key:        "req1.json",
				Path:       "/spool/out/req1.json",
				Payload:    map[string]any{"bloomberg_code": "VIX Index"},
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				for _, want := range []string{`"protocol":1`, `"key":"req1.json"`, `"path":"/spool/out/req1.json"`, `"bloomberg_code":"VIX Index"`} {
					if !strings.Contains(output, want) {
						t.Errorf("output %s missing %s", output, want)
					}
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Path: "/x"},
			wantErr: true,
		},
		{
			name:    "missing path",
			req:     &Request{Protocol: Version},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(t *testing.T, resp *Response)
	}{
		{
			name:  "ok with result",
			input: `{"status":"ok","result":{"PX_LAST":17.2},"logs":[{"level":"info","message":"fetched"}]}`,
			check: func(t *testing.T, resp *Response) {
				if !resp.OK() {
					t.Error("expected OK")
				}
				var result map[string]float64
				if err := json.Unmarshal(resp.Result, &result); err != nil {
					t.Fatalf("result: %v", err)
				}
				if result["PX_LAST"] != 17.2 {
					t.Errorf("PX_LAST = %v", result["PX_LAST"])
				}
				if len(resp.Logs) != 1 || resp.Logs[0].Message != "fetched" {
					t.Errorf("logs = %+v", resp.Logs)
				}
			},
		},
		{
			name:  "error with message",
			input: `{"status":"error","error":"unknown security"}`,
			check: func(t *testing.T, resp *Response) {
				if resp.OK() {
					t.Error("expected not OK")
				}
				if resp.Error != "unknown security" {
					t.Errorf("Error = %q", resp.Error)
				}
			},
		},
		{name: "empty output", input: ``, wantErr: "no output"},
		{name: "not json", input: `hello`, wantErr: "not valid JSON"},
		{name: "missing status", input: `{"result":1}`, wantErr: "missing required field"},
		{name: "bad status", input: `{"status":"maybe"}`, wantErr: "invalid status"},
		{name: "error without message", input: `{"status":"error"}`, wantErr: "no error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw, err := DecodeResponse(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DecodeResponse() error = %v, want containing %q", err, tt.wantErr)
				}
				if string(raw) != tt.input {
					t.Errorf("raw = %q, want %q", raw, tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResponse() unexpected error: %v", err)
			}
			tt.check(t, resp)
		})
	}
}
