package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 returns b as a UTF-8 string. Valid UTF-8 passes through untouched;
// anything else is assumed to be Windows-1252, the usual charset of legacy
// Firebird databases.
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		// Fallback: return raw string if decoding fails
		return string(b)
	}

	return string(decoded)
}
