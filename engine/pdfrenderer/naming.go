package pdfrenderer

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"
)

const (
	defaultBaseName = "document"
	maxBaseRunes    = 80
)

// SanitizeBaseName turns a display name into a token that is safe as a file name prefix.
// Letters in any script are kept; everything else becomes '_'.
func SanitizeBaseName(displayName string) string {
	name := path.Base(strings.ReplaceAll(displayName, "\\", "/"))
	if strings.EqualFold(path.Ext(name), ".pdf") {
		name = name[:len(name)-len(".pdf")]
	}

	var b strings.Builder
	lastUnderscore := false
	runes := 0
	for _, r := range name {
		if runes >= maxBaseRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if lastUnderscore {
				continue
			}
			b.WriteRune('_')
			lastUnderscore = true
		}
		runes++
	}

	clean := strings.Trim(b.String(), "_-")
	if clean == "" {
		return defaultBaseName
	}
	return clean
}

// PageFileName is the canonical artifact name. Page numbers are padded to the width of
// the page count so that lexicographic and numeric order agree.
func PageFileName(base string, index, total int) string {
	width := len(strconv.Itoa(total))
	return fmt.Sprintf("%s-%0*d.png", base, width, index)
}
