package ivr

import (
	"strings"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// KeywordMatcher matches an utterance against option intents and keywords.
// When several options match, the highest priority wins and ties keep
// menu order.
type KeywordMatcher struct{}

// Match implements IntentMatcher
func (KeywordMatcher) Match(menu *types.IVRMenu, utterance string) (types.IVROption, bool) {
	text := " " + normalize(utterance) + " "
	best := -1
	for i, opt := range menu.Options {
		if !matches(opt, text) {
			continue
		}
		if best < 0 || opt.Priority > menu.Options[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return types.IVROption{}, false
	}
	return menu.Options[best], true
}

func matches(opt types.IVROption, text string) bool {
	if opt.Intent != "" && strings.Contains(text, " "+normalize(strings.ReplaceAll(opt.Intent, "_", " "))+" ") {
		return true
	}
	for _, kw := range opt.Keywords {
		if k := normalize(kw); k != "" && strings.Contains(text, " "+k+" ") {
			return true
		}
	}
	return false
}

// normalize lowercases and collapses everything but letters and digits to single spaces
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
