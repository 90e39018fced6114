package agent

import (
	"strings"

	"github.com/xsota/meowgent/pkg/models"
)

// blankFallback replaces empty assistant output so the channel layer
// never tries to deliver an empty message.
const blankFallback = "…"

// SafeText extracts the displayable text of an assistant turn. Turns
// with structured parts concatenate their text parts; a turn with no
// usable text yields the fallback placeholder.
func SafeText(turn *models.Turn) string {
	if turn == nil {
		return blankFallback
	}
	if len(turn.Parts) > 0 {
		var b strings.Builder
		for _, p := range turn.Parts {
			if p.Type == models.PartText && strings.TrimSpace(p.Text) != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(strings.TrimSpace(p.Text))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	if content := strings.TrimSpace(turn.Content); content != "" {
		return content
	}
	return blankFallback
}

// isBlank reports whether an assistant turn carries no usable text.
func isBlank(turn *models.Turn) bool {
	return SafeText(turn) == blankFallback
}
