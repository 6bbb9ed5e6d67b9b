package momo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CanonicalString joins the fields as key=value pairs ordered by key
func CanonicalString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// Sign returns the hex encoded HMAC-SHA256 of raw
func Sign(secret, raw string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignFields signs the canonical string of fields
func SignFields(secret string, fields map[string]string) string {
	return Sign(secret, CanonicalString(fields))
}

func validSignature(secret string, fields map[string]string, received string) bool {
	expected := SignFields(secret, fields)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(received)))
}
