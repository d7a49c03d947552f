package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the stable identity hash for an article: hex SHA-256
// over the canonicalized URL and the normalized title. The same (url, title)
// pair always yields the same fingerprint across runs and processes.
func Fingerprint(rawURL, title string) string {
	u := CanonicalURL(rawURL)
	t := normalizeTitle(title)
	sum := sha256.Sum256([]byte(u + "\x00" + t))
	return hex.EncodeToString(sum[:])
}

// CanonicalURL normalizes a URL for identity comparison: lowercase scheme and
// host, fragment dropped, query parameters sorted, trailing slash stripped.
// Anything that does not parse as an http(s) URL is returned trimmed and
// NFC-normalized so hashing still works on garbage input.
func CanonicalURL(raw string) string {
	raw = norm.NFC.String(strings.TrimSpace(raw))

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return raw
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = b.String()
	}

	return parsed.String()
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(norm.NFC.String(title)), " ")
}
