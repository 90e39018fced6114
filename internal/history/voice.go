package history

import (
	"regexp"
	"strings"
)

// VoicePattern recognizes the bot's own voice channel join/leave
// announcements so they can be reclassified as system turns instead of
// assistant speech. The matcher is built from the configured announcement
// templates rather than hard-coded text, so custom templates keep working.
type VoicePattern struct {
	re *regexp.Regexp
}

// NewVoicePattern compiles a matcher from announcement templates. The
// {name} and {channel} placeholders match a non-empty run of
// non-whitespace text, which keeps ordinary sentences that merely end
// in an announcement-shaped phrase from matching.
func NewVoicePattern(templates ...string) *VoicePattern {
	alts := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		tmpl = strings.TrimSpace(tmpl)
		if tmpl == "" {
			continue
		}
		quoted := regexp.QuoteMeta(tmpl)
		quoted = strings.ReplaceAll(quoted, regexp.QuoteMeta("{name}"), `\S+`)
		quoted = strings.ReplaceAll(quoted, regexp.QuoteMeta("{channel}"), `\S+`)
		alts = append(alts, "(?:"+quoted+")")
	}
	if len(alts) == 0 {
		return &VoicePattern{}
	}
	return &VoicePattern{
		re: regexp.MustCompile("^(?:" + strings.Join(alts, "|") + ")$"),
	}
}

// Match reports whether text is a voice announcement.
func (p *VoicePattern) Match(text string) bool {
	if p == nil || p.re == nil {
		return false
	}
	return p.re.MatchString(strings.TrimSpace(text))
}

// Render fills a template's {name} and {channel} placeholders.
func Render(tmpl, name, channel string) string {
	out := strings.ReplaceAll(tmpl, "{name}", name)
	return strings.ReplaceAll(out, "{channel}", channel)
}
