package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// maxExtLen bounds the extension carried over from a key's URL path.
const maxExtLen = 8

// NormalizeKey trims surrounding whitespace. Keys are otherwise opaque.
func NormalizeKey(s string) string {
	return strings.TrimSpace(s)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(NormalizeKey(key)))
	return hex.EncodeToString(sum[:])
}

// ObjectName derives the name a fetched resource is stored under.
// A usable identifier wins; otherwise the name is the first 32 hex chars of
// the key fingerprint plus the extension of the URL path, if any.
func ObjectName(key, identifier string) string {
	if name := sanitizeIdentifier(identifier); name != "" {
		return name
	}
	return Fingerprint(key)[:32] + extension(key)
}

func sanitizeIdentifier(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	// Identifiers name a single object; never let them climb directories.
	id = strings.ReplaceAll(id, "\\", "/")
	id = path.Base(id)
	switch id {
	case ".", "..", "/":
		return ""
	}
	return id
}

func extension(key string) string {
	u, err := url.Parse(NormalizeKey(key))
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}
