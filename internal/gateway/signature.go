package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of the fields rendered as
// key=value pairs, sorted by key and joined with '&'.
func Sign(checksumKey string, fields map[string]any) string {
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(canonical(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(checksumKey string, fields map[string]any, signature string) bool {
	expected := Sign(checksumKey, fields)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func canonical(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+renderValue(fields[key]))
	}
	return strings.Join(parts, "&")
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if v == "null" || v == "undefined" {
			return ""
		}
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// decodeFields keeps numbers as json.Number so they render exactly as sent.
func decodeFields(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	fields := map[string]any{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
