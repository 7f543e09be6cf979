// Package cache provides the content-addressed response cache and the
// prompt-fingerprint AI cache shared by every outbound provider call. Both
// caches are tiered: an in-process expirable LRU in front of Redis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// secretHeaders are stripped before fingerprinting so credential rotation
// never changes a cache key.
var secretHeaders = map[string]bool{
	"authorization": true,
	"api-key":       true,
	"x-api-key":     true,
}

// StripSecretHeaders returns a copy of headers without credential headers,
// matched case-insensitively.
func StripSecretHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if secretHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// ResponseKey computes the cache key for an outbound request: SHA-256 over
// sorted-key JSON of method, URL, params, and non-secret headers.
func ResponseKey(method, url string, params, headers map[string]string) string {
	canonical := struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Params  map[string]string `json:"params"`
		Headers map[string]string `json:"headers"`
	}{
		Method:  strings.ToUpper(method),
		URL:     url,
		Params:  params,
		Headers: StripSecretHeaders(headers),
	}
	// Map keys serialize sorted, so the encoding is canonical.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SchemaFingerprint computes a stable fingerprint for a response schema.
func SchemaFingerprint(schema []byte) string {
	if len(schema) == 0 {
		return ""
	}
	sum := sha256.Sum256(schema)
	return hex.EncodeToString(sum[:])
}

// AIKey computes the cache key for an LLM completion. Temperature
// participates in the key so deterministic and stochastic generations never
// collide.
func AIKey(model, prompt, schemaFingerprint string, temperature float64, tenantID string) string {
	canonical := struct {
		Model       string `json:"model"`
		Prompt      string `json:"prompt"`
		Schema      string `json:"schema"`
		Temperature string `json:"temperature"`
		Tenant      string `json:"tenant"`
	}{
		Model:       model,
		Prompt:      strings.TrimSpace(prompt),
		Schema:      schemaFingerprint,
		Temperature: strconv.FormatFloat(temperature, 'f', -1, 64),
		Tenant:      tenantID,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
