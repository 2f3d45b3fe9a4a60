// Package webhook accepts request documents over HTTP and drops them into
// the spool inbox, where the queue picks them up like any other file.
//
// Every endpoint verifies an HMAC-SHA256 signature of the body with a
// pre-shared secret before anything touches the disk. The signature header
// carries either plain hex or the "sha256=<hex>" form.
//
//	webhook:
//	  enabled: true
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /drop/orders
//	      secret: ${ORDERS_WEBHOOK_SECRET}
//	      signature_header: X-Spool-Signature
//	      max_body_size: 1MB
//	      key_prefix: order-
//
// The key is taken from the X-Spool-Key header when present, otherwise
// generated as <key_prefix><uuid>.json.
//
// Responses:
//
//   - 202 Accepted with {"key": ...} once the file is in the inbox
//   - 400 body is not a JSON object or the key is unusable
//   - 403 missing or invalid signature (no details)
//   - 409 the inbox already holds the key
//   - 413 body exceeds max_body_size
package webhook
