package slides

import (
	"fmt"
	"strings"

	"github.com/simbafs/stagesync/internal/domain"
)

// untitledLabel is used for text that appears before the first header.
const untitledLabel = "Lyrics"

// ParseSections splits lyrics text on "# Label" header lines.
func ParseSections(lyrics string) []domain.Section {
	var (
		sections []domain.Section
		label    string
		body     []string
		started  bool
	)

	flush := func() {
		if !started {
			return
		}
		content := strings.Join(body, "\n")
		if label == untitledLabel && strings.TrimSpace(content) == "" {
			return
		}
		sections = append(sections, domain.Section{
			ID:      fmt.Sprintf("s%d", len(sections)),
			Label:   label,
			Content: content,
		})
	}

	for _, line := range strings.Split(lyrics, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			label = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			body = nil
			started = true
			continue
		}
		if !started {
			label = untitledLabel
			started = true
		}
		body = append(body, line)
	}
	flush()

	return sections
}
