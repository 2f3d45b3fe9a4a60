package webhook

// Dropper publishes a request document into the inbox.
type Dropper interface {
	Drop(key string, data []byte) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single drop endpoint.
type EndpointConfig struct {
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
	KeyPrefix       string
}

// DropResponse is returned once a document is in the inbox.
type DropResponse struct {
	Key string `json:"key"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Spool-Signature"
	KeyHeader              = "X-Spool-Key"
)
