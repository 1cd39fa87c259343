// Package subtitle converts SubRip-style subtitle bodies to WebVTT.
package subtitle

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	ContentType = "text/vtt; charset=utf-8"
	header      = "WEBVTT"
)

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	// matches HH:MM:SS,mmm and MM:SS,mmm
	cueTimestamp = regexp.MustCompile(`\b((?:\d{1,2}:)?\d{1,2}:\d{2}),(\d{3})\b`)
)

// ToVTT normalizes body into WebVTT. Bodies that are not valid UTF-8 are decoded as
// Windows-1252. Already-converted input passes through unchanged apart from line endings.
func ToVTT(body []byte) string {
	body = bytes.TrimPrefix(body, utf8BOM)
	text := decode(body)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.Contains(line, "-->") {
			lines[i] = cueTimestamp.ReplaceAllString(line, "$1.$2")
		}
	}
	text = strings.Join(lines, "\n")

	if strings.HasPrefix(text, header) {
		return text
	}
	return header + "\n\n" + strings.TrimLeft(text, "\n")
}

func decode(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
