package mtom

import (
	"net/url"
	"strings"
)

// ContentType holds the parameters of a multipart/related Content-Type
// header.
type ContentType struct {
	MediaType string
	Boundary  string
	Start     string
	Type      string
	StartInfo string
	Params    map[string]string
}

// ParseContentType parses a multipart Content-Type header. Parameter
// names are matched case-insensitively and values are de-quoted.
// mime.ParseMediaType is not used because responding gateways send
// start values that it rejects.
func ParseContentType(header string) (*ContentType, error) {
	ct := &ContentType{Params: make(map[string]string)}

	for i, segment := range strings.Split(header, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			if i == 0 {
				ct.MediaType = strings.ToLower(segment)
			}
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		ct.Params[key] = unquote(strings.TrimSpace(value))
	}

	ct.Boundary = ct.Params["boundary"]
	ct.Start = ct.Params["start"]
	ct.Type = ct.Params["type"]
	ct.StartInfo = ct.Params["start-info"]

	if ct.Boundary == "" {
		return nil, ErrMissingBoundary
	}
	if ct.Start == "" {
		return nil, ErrMissingStart
	}
	return ct, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// CIDReference converts an XOP Include href into a bare Content-ID
func CIDReference(href string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		decoded = href
	}
	return strings.TrimPrefix(strings.TrimSpace(decoded), "cid:")
}

// normalizeContentID normalizes a Content-ID for comparison
func normalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	return GetContentIDWithoutBrackets(contentID)
}

// GetContentIDWithoutBrackets removes < and > from Content-ID
func GetContentIDWithoutBrackets(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

// AddContentIDBrackets adds < and > to Content-ID if not present
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}
