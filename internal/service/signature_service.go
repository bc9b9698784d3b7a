package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify accepts three header shapes:
//
//	<hex>
//	sha256=<hex>
//	ts=<unix>,v1=<hex>   (signed content is "<unix>.<payload>")
//
// Comparison is constant time.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secretKey == "" || signature == "" {
		return false
	}

	if ts, v1, ok := parseTimestamped(signature); ok {
		expected := s.Sign(secretKey, ts+"."+payload)
		return hmac.Equal([]byte(expected), []byte(strings.ToLower(v1)))
	}

	signature = strings.TrimPrefix(signature, "sha256=")
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func parseTimestamped(signature string) (ts, v1 string, ok bool) {
	if !strings.Contains(signature, "v1=") {
		return "", "", false
	}
	for _, part := range strings.Split(signature, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.ToLower(k) {
		case "ts", "t":
			ts = v
		case "v1":
			v1 = v
		}
	}
	return ts, v1, ts != "" && v1 != ""
}
