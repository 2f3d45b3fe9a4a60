// Package protocol is the JSON envelope exchanged with exec adapters over
// stdin and stdout.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Path == "" {
		return fmt.Errorf("request is missing path")
	}

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponse reads a Response from r and validates it. The raw bytes are
// returned as well so callers can log what the adapter actually printed.
func DecodeResponse(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("adapter produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("adapter output is not valid JSON: %w", err)
	}
	if err := validate(&resp); err != nil {
		return nil, data, err
	}
	return &resp, data, nil
}

func validate(resp *Response) error {
	switch resp.Status {
	case "":
		return fmt.Errorf("response missing required field: status")
	case "ok", "error":
	default:
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	return nil
}
