package sie

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Decode normalizes raw SIE file bytes to UTF-8 text. The SIE standard
// prescribes IBM PC-8 (code page 437), but files in the wild also arrive as
// UTF-8 (with or without BOM) and occasionally UTF-16. Detection is by byte
// pattern; undecodable input yields a diagnostic error rather than silent
// substitution.
func Decode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("sie: empty file")
	}

	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		body := raw[3:]
		if !utf8.Valid(body) {
			return "", fmt.Errorf("sie: UTF-8 BOM present but body is not valid UTF-8")
		}
		return normalizeNewlines(string(body)), nil

	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("sie: decode UTF-16: %w", err)
		}
		return normalizeNewlines(string(out)), nil
	}

	if bytes.IndexByte(raw, 0x00) >= 0 {
		return "", fmt.Errorf("sie: file contains NUL bytes; unsupported encoding")
	}

	// Pure ASCII decodes identically either way.
	if isASCII(raw) {
		return normalizeNewlines(string(raw)), nil
	}

	// High bytes present: valid multi-byte UTF-8 wins, otherwise CP437.
	if utf8.Valid(raw) && hasMultibyte(raw) {
		return normalizeNewlines(string(raw)), nil
	}

	out, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("sie: decode CP437: %w", err)
	}
	return normalizeNewlines(string(out)), nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func hasMultibyte(b []byte) bool {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if size > 1 {
			return true
		}
		i += size
	}
	return false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Encode renders UTF-8 SIE text back to code page 437 bytes for export to
// consumers that expect the standard encoding. Characters outside CP437 are
// rejected.
func Encode(text string) ([]byte, error) {
	out, err := charmap.CodePage437.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("sie: text not representable in CP437: %w", err)
	}
	return out, nil
}
