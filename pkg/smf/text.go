package smf

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// decodeMetaText converts the payload of a text-class meta event (track name,
// sequence name, markers) to a Go string. Files from Japanese notation
// software frequently carry Shift-JIS here, so invalid UTF-8 gets one decode
// attempt through that encoding before falling back to a lossy conversion.
func decodeMetaText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if utf8.Valid(raw) {
		return strings.TrimRight(string(raw), "\x00")
	}
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err == nil && utf8.Valid(decoded) {
		return strings.TrimRight(string(decoded), "\x00")
	}
	return strings.ToValidUTF8(strings.TrimRight(string(raw), "\x00"), "?")
}
