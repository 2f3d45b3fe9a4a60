package webhook

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"ticker":"AAPL","field":"PX_LAST"}`)
	plain := hex.EncodeToString(Sign(body, secret))

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "plain hex", body: body, signature: plain, secret: secret},
		{name: "sha256 prefix", body: body, signature: SignatureHeaderValue(body, secret), secret: secret},
		{name: "wrong signature", body: body, signature: strings.Repeat("0", 64), secret: secret, wantErr: true},
		{name: "tampered body", body: []byte(`{"ticker":"MSFT"}`), signature: plain, secret: secret, wantErr: true},
		{name: "wrong secret", body: body, signature: plain, secret: "other", wantErr: true},
		{name: "empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "empty secret", body: body, signature: plain, secret: "", wantErr: true},
		{name: "not hex", body: body, signature: "sha256=zz", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, errVerification)
				return
			}
			assert.NoError(t, err)
		})
	}
}
