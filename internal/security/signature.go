package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid HMAC signature")

// CanonicalJSON re-encodes a JSON document with sorted object keys, no
// insignificant whitespace, no HTML escaping and numbers exactly as sent.
func CanonicalJSON(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid JSON payload: trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical payload
func Sign(secret string, payload []byte) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return SignRaw(secret, canonical), nil
}

// SignRaw returns the lowercase hex HMAC-SHA256 of body as-is
func SignRaw(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the canonical payload in constant time
func Verify(secret, signature string, payload []byte) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}

	expected, err := Sign(secret, payload)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyRaw checks an HMAC computed over the raw body
func VerifyRaw(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignRaw(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
