package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// tokenExcludedFields are request fields that never participate in the
// signature, per the acquirer's signing rules.
var tokenExcludedFields = map[string]struct{}{
	"Token":                {},
	"Receipt":              {},
	"DATA":                 {},
	"ReceiptData":          {},
	"EncryptedPaymentData": {},
}

// ComputeToken signs a request or notification payload. The token is the hex
// sha256 of all scalar values concatenated in key order, with the terminal
// password injected under the "Password" key.
func ComputeToken(params map[string]any, password string) string {
	values := make(map[string]string, len(params)+1)
	for key, raw := range params {
		if _, excluded := tokenExcludedFields[key]; excluded {
			continue
		}
		values[key] = coerce(raw)
	}
	values["Password"] = password

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var concatenated string
	for _, key := range keys {
		concatenated += values[key]
	}

	sum := sha256.Sum256([]byte(concatenated))
	return hex.EncodeToString(sum[:])
}

func coerce(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
