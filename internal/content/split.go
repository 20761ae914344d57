// Package content separates embedded iframes from assistant prose so each can
// be rendered on its own.
package content

import (
	"regexp"
	"strings"
)

var iframePattern = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)

// PartKind tags one ordered piece of a split message.
type PartKind string

const (
	PartProse PartKind = "prose"
	PartEmbed PartKind = "embed"
)

type Part struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text"`
	// HTML is the sanitized wrapper of an embed, set by RenderParts.
	HTML string `json:"html,omitempty"`
}

// Segments is the result of Split. Parts keeps prose and embeds in their
// original relative order; Prose and Embeds are the same pieces by kind.
type Segments struct {
	Prose  []string `json:"prose"`
	Embeds []string `json:"embeds"`
	Parts  []Part   `json:"parts"`
}

// HasEmbeds reports whether any iframe block was found.
func (s Segments) HasEmbeds() bool { return len(s.Embeds) > 0 }

// Join concatenates Parts back into the source text.
func (s Segments) Join() string {
	var b strings.Builder
	for _, p := range s.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Split extracts every iframe block in order. Prose between blocks is kept
// verbatim; empty runs are dropped. Input without embeds comes back as a
// single prose segment, so Split is idempotent on prose.
func Split(content string) Segments {
	locs := iframePattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return Segments{
			Prose: []string{content},
			Parts: []Part{{Kind: PartProse, Text: content}},
		}
	}

	var s Segments
	addProse := func(text string) {
		if text == "" {
			return
		}
		s.Prose = append(s.Prose, text)
		s.Parts = append(s.Parts, Part{Kind: PartProse, Text: text})
	}

	last := 0
	for _, loc := range locs {
		addProse(content[last:loc[0]])
		embed := content[loc[0]:loc[1]]
		s.Embeds = append(s.Embeds, embed)
		s.Parts = append(s.Parts, Part{Kind: PartEmbed, Text: embed})
		last = loc[1]
	}
	addProse(content[last:])
	return s
}
