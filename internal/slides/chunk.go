// Package slides splits song sections into bounded-line slides.
//
// Controllers and displays compute slides independently from the same song and
// style versions, so every function here is deterministic and free of I/O.
package slides

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/simbafs/stagesync/internal/domain"
)

// DefaultMaxLines applies when no active style declares a line limit.
const DefaultMaxLines = 4

// EffectiveMaxLines returns the tightest MaxLines among styles.
func EffectiveMaxLines(styles []domain.Style) int {
	maxLines := 0
	for _, s := range styles {
		if s.MaxLines <= 0 {
			continue
		}
		if maxLines == 0 || s.MaxLines < maxLines {
			maxLines = s.MaxLines
		}
	}
	if maxLines == 0 {
		return DefaultMaxLines
	}
	return maxLines
}

// Chunk turns sections into slides no longer than the effective line limit.
func Chunk(sections []domain.Section, styles []domain.Style) []domain.Slide {
	maxLines := EffectiveMaxLines(styles)

	var out []domain.Slide
	for _, sec := range sections {
		lines := nonBlankLines(sec.Content)
		if len(lines) == 0 {
			continue
		}

		total := (len(lines) + maxLines - 1) / maxLines
		for i := range total {
			end := min((i+1)*maxLines, len(lines))
			group := make([]string, end-i*maxLines)
			copy(group, lines[i*maxLines:end])

			label := sec.Label
			if total > 1 {
				label = fmt.Sprintf("%s (%d/%d)", sec.Label, i+1, total)
			}
			out = append(out, domain.Slide{
				SectionID:      sec.ID,
				SectionLabel:   sec.Label,
				SubIndex:       i,
				TotalSubSlides: total,
				Lines:          group,
				DisplayLabel:   label,
				ShortCode:      ShortCode(sec.Label, i, total),
			})
		}
	}
	return out
}

func nonBlankLines(content string) []string {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

var sectionCodes = map[string]string{
	"verse":     "V",
	"chorus":    "C",
	"bridge":    "B",
	"prechorus": "PC",
	"intro":     "I",
	"outro":     "O",
	"tag":       "T",
}

// ShortCode abbreviates a section label, e.g. "Verse 1" -> "V1".
// When the section spans several slides a letter suffix is appended: "V1a".
func ShortCode(label string, subIndex, total int) string {
	name, digits := splitTrailingDigits(strings.TrimSpace(label))

	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, name)

	code, ok := sectionCodes[key]
	if !ok {
		for _, r := range name {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				code = string(unicode.ToUpper(r))
				break
			}
		}
	}

	code += digits
	if total > 1 && subIndex >= 0 && subIndex < 26 {
		code += string(rune('a' + subIndex))
	}
	return code
}

func splitTrailingDigits(s string) (string, string) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return strings.TrimSpace(s[:i]), s[i:]
}
