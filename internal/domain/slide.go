package domain

// Section is one labelled block of song text, e.g. "Verse 1".
type Section struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Content string `json:"content"`
}

// Style carries the layout constraints of a display style.
// A zero MaxLines means the style does not constrain line count.
type Style struct {
	Name     string `json:"name,omitempty"`
	MaxLines int    `json:"maxLines,omitempty"`
}

// Slide is a bounded-line unit of renderable text.
type Slide struct {
	SectionID      string   `json:"sectionId"`
	SectionLabel   string   `json:"sectionLabel"`
	SubIndex       int      `json:"subIndex"`
	TotalSubSlides int      `json:"totalSubSlides"`
	Lines          []string `json:"lines"`
	DisplayLabel   string   `json:"displayLabel"`
	ShortCode      string   `json:"shortCode"`
}
