package mtom

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sniffed MIME types
const (
	MimePDF       = "application/pdf"
	MimeTIFF      = "image/tiff"
	MimeXML       = "application/xml"
	MimeText      = "text/plain"
	MimeJPEG      = "image/jpeg"
	MimePNG       = "image/png"
	MimeBMP       = "image/bmp"
	MimeTextXML   = "text/xml"
	MimeOctetData = ContentTypeOctetStream
)

var (
	magicPDF    = []byte("%PDF")
	magicTIFFLE = []byte{'I', 'I', 0x2A, 0x00}
	magicTIFFBE = []byte{'M', 'M', 0x00, 0x2A}
	magicJPEG   = []byte{0xFF, 0xD8, 0xFF}
	magicPNG    = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	magicBMP    = []byte("BM")
	magicRIFF   = []byte("RIFF")
	utf8BOM     = []byte{0xEF, 0xBB, 0xBF}
)

// DetectMimeType sniffs the MIME type of a document from its leading
// bytes. Types outside the known set, WEBP included, are reported as
// application/octet-stream.
func DetectMimeType(data []byte) string {
	switch {
	case len(data) == 0:
		return MimeOctetData
	case bytes.HasPrefix(data, magicPDF):
		return MimePDF
	case bytes.HasPrefix(data, magicTIFFLE), bytes.HasPrefix(data, magicTIFFBE):
		return MimeTIFF
	case bytes.HasPrefix(data, magicJPEG):
		return MimeJPEG
	case bytes.HasPrefix(data, magicPNG):
		return MimePNG
	case bytes.HasPrefix(data, magicRIFF):
		return MimeOctetData
	case bytes.HasPrefix(data, magicBMP):
		return MimeBMP
	case isXML(data):
		return MimeXML
	case isText(data):
		return MimeText
	}
	return MimeOctetData
}

func isXML(data []byte) bool {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimLeft(data, " \t\r\n")
	if bytes.HasPrefix(data, []byte("<?xml")) {
		return true
	}
	if len(data) < 2 || data[0] != '<' {
		return false
	}
	r, _ := utf8.DecodeRune(data[1:])
	return unicode.IsLetter(r) || r == '_' || r == '!'
}

func isText(data []byte) bool {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// DecodeBase64Document decodes an inline base64 document, ignoring any
// whitespace, and sniffs its MIME type.
func DecodeBase64Document(encoded string) ([]byte, string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, encoded)

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 document: %w", err)
	}
	return data, DetectMimeType(data), nil
}

var extensions = map[string]string{
	MimePDF:     ".pdf",
	MimeTIFF:    ".tiff",
	MimeXML:     ".xml",
	MimeTextXML: ".xml",
	MimeText:    ".txt",
	MimeJPEG:    ".jpeg",
	MimePNG:     ".png",
	MimeBMP:     ".bmp",
}

// Extension returns the file extension used when storing a document of
// the given MIME type.
func Extension(mimeType string) string {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(mediaType))]; ok {
		return ext
	}
	return ".bin"
}
