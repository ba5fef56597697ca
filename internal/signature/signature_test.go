package signature

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_123"}}}}`)
	secret := "whsec_test"
	valid := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{name: "valid signature", body: body, signature: valid, secret: secret, want: true},
		{name: "uppercase hex accepted", body: body, signature: strings.ToUpper(valid), secret: secret, want: true},
		{name: "surrounding whitespace", body: body, signature: " " + valid + "\n", secret: secret, want: true},
		{name: "tampered body", body: []byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_999"}}}}`), signature: valid, secret: secret, want: false},
		{name: "reserialized body", body: []byte(`{"event": "order.paid", "payload": {"order": {"entity": {"id": "order_123"}}}}`), signature: valid, secret: secret, want: false},
		{name: "wrong secret", body: body, signature: valid, secret: "other", want: false},
		{name: "empty signature", body: body, signature: "", secret: secret, want: false},
		{name: "empty secret", body: body, signature: valid, secret: "", want: false},
		{name: "not hex", body: body, signature: "zz" + valid[2:], secret: secret, want: false},
		{name: "truncated", body: body, signature: valid[:32], secret: secret, want: false},
		{name: "odd length", body: body, signature: valid[:63], secret: secret, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.body, tt.signature, tt.secret))
		})
	}
}

func TestVerify_TamperedBodiesRejected(t *testing.T) {
	secret := "whsec_test"
	for i := 0; i < 200; i++ {
		body := []byte(fmt.Sprintf(`{"id":"order_%d","amount":%d}`, i, i*100))
		sig := Sign(body, secret)

		assert.True(t, Verify(body, sig, secret))

		tampered := append([]byte{}, body...)
		tampered[len(tampered)-2] ^= 0x01
		assert.False(t, Verify(tampered, sig, secret), "tampered body %q accepted", tampered)
	}
}
