package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drewmudry/instashorts-pipeline/captions"
)

const defaultHighlight = "#FFD700"

// assColor converts #RRGGBB to the ASS &HBBGGRR form. Invalid input falls
// back to the default highlight.
func assColor(hex string) string {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		return assColor(defaultHighlight)
	}
	if _, err := strconv.ParseUint(h, 16, 32); err != nil {
		return assColor(defaultHighlight)
	}
	h = strings.ToUpper(h)
	return "&H" + h[4:6] + h[2:4] + h[0:2]
}

// assAlignment maps a caption position to a numpad alignment and vertical
// margin.
func assAlignment(position string) (int, int) {
	switch position {
	case "top":
		return 8, 320
	case "middle":
		return 5, 0
	default:
		return 2, 360
	}
}

// assTimestamp formats seconds as H:MM:SS.cc.
func assTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int64(seconds*100 + 1e-6)
	h := cs / 360000
	m := (cs % 360000) / 6000
	s := (cs % 6000) / 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func assEscape(s string) string {
	return strings.NewReplacer("{", "(", "}", ")", `\`, "/", "\n", " ").Replace(s)
}

func captionText(w captions.Word) string {
	text := assEscape(w.Word)
	if w.Emoji != "" {
		text += " " + w.Emoji
	}
	return text
}

// BuildASS renders word timings as an ASS subtitle script. Words are shown
// WordsPerPage at a time and the word being spoken is drawn in the highlight
// colour.
func BuildASS(c Composition) string {
	width, height := c.Width, c.Height
	if width == 0 || height == 0 {
		width, height = Width, Height
	}
	align, marginV := assAlignment(c.CaptionPosition)
	highlight := assColor(c.HighlightColor)

	var b strings.Builder
	fmt.Fprintf(&b, "[Script Info]\nScriptType: v4.00+\nPlayResX: %d\nPlayResY: %d\nWrapStyle: 0\nScaledBorderAndShadow: yes\n\n", width, height)
	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: Caption,Arial,80,&H00FFFFFF,&H00FFFFFF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,6,2,%d,90,90,%d,1\n\n", align, marginV)
	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	pages := captions.Pages(c.Words, WordsPerPage)
	for p, page := range pages {
		pageEnd := page[len(page)-1].End + TrailingBuffer
		if p+1 < len(pages) {
			pageEnd = pages[p+1][0].Start
		}
		if c.DurationSeconds > 0 && pageEnd > c.DurationSeconds {
			pageEnd = c.DurationSeconds
		}

		for i, w := range page {
			start := w.Start
			end := pageEnd
			if i+1 < len(page) {
				end = page[i+1].Start
			}
			if end <= start {
				end = w.End
			}
			if end <= start {
				continue
			}

			parts := make([]string, len(page))
			for j, other := range page {
				if j == i {
					parts[j] = fmt.Sprintf(`{\c%s&}%s{\r}`, highlight, captionText(other))
				} else {
					parts[j] = captionText(other)
				}
			}
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
				assTimestamp(start), assTimestamp(end), strings.Join(parts, " "))
		}
	}
	return b.String()
}
