package toolruntime

import (
	"net/url"
	"strings"
)

// sensitiveParams are query-parameter names treated as secret-bearing.
// Matched case-insensitively against the decoded key.
var sensitiveParams = map[string]bool{
	"password": true, "passwd": true, "pwd": true,
	"token": true, "access_token": true, "refresh_token": true,
	"secret": true, "apikey": true, "api_key": true,
	"auth": true, "session": true,
}

const redactedValue = "REDACTED"

// IsSensitiveField reports whether a field/attribute name looks like it
// carries a secret, the same small pure-predicate style horosafe uses for
// its validation helpers.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveParams[lower] {
		return true
	}
	for key := range sensitiveParams {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// RedactURL replaces the value of every sensitive query parameter with a
// fixed placeholder, leaving the rest of the URL (scheme, host, path,
// non-sensitive params) intact for observability.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for key := range q {
		if IsSensitiveField(key) {
			q.Set(key, redactedValue)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// RedactTitle strips control characters and caps length; page titles don't
// typically carry secrets, but an overlong or control-character-laden
// title is still worth normalizing before it lands in an action report.
func RedactTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	const maxLen = 256
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
