package ihe

import (
	"strings"
	"time"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	urnOID  = "urn:oid:"
	urnUUID = "urn:uuid:"
)

// FormatTimestamp renders t in UTC with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now is FormatTimestamp(time.Now())
func Now() string {
	return FormatTimestamp(time.Now())
}

// WrapURNOID prefixes oid with urn:oid: unless already present
func WrapURNOID(oid string) string {
	if oid == "" || strings.HasPrefix(oid, urnOID) {
		return oid
	}
	return urnOID + oid
}

// WrapURNUUID prefixes id with urn:uuid: unless already present
func WrapURNUUID(id string) string {
	if id == "" || strings.HasPrefix(id, urnUUID) {
		return id
	}
	return urnUUID + id
}

// StripURNPrefix removes a leading urn:oid: or urn:uuid:
func StripURNPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, urnOID) {
		return s[len(urnOID):]
	}
	if strings.HasPrefix(s, urnUUID) {
		return s[len(urnUUID):]
	}
	return s
}

// StripBrackets removes the enclosing [ ] some gateways put around ids
func StripBrackets(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
}

// IsOID reports whether s looks like a dotted-decimal object identifier
func IsOID(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if s[i-1] == '.' {
				return false
			}
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
