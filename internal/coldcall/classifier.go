// Package coldcall implements the dialogue controller for a single scripted
// qualification call: intent signals, the stage machine, the turn budget and
// the terminal disposition.
package coldcall

import (
	"regexp"
	"strings"
)

// Signals is the flat set of intents recognized in one utterance.
// More than one field may be true; the rule table decides which one wins.
type Signals struct {
	Repeat         bool
	NotInterested  bool
	NotOwner       bool
	Busy           bool
	NonITBusiness  bool
	OwnerConfirmed bool
}

var (
	repeatPattern         = wordPattern("repeat", "again", "sorry", "didn't hear")
	notInterestedPattern  = wordPattern("not interested", "no thanks", "stop calling", "don't call")
	notOwnerPattern       = wordPattern("not the owner", "employee", "staff", "assistant", "receptionist", "manager")
	busyPattern           = wordPattern("busy", "call later", "meeting", "not now", "later")
	nonITBusinessPattern  = wordPattern("grocery", "kirana", "plumber", "electrician", "salon", "restaurant", "bakery", "shop")
	ownerConfirmedPattern = wordPattern("yes", "speaking", "i am", "this is the owner")
)

// nonWordChar is anything but a Unicode word character. RE2's \b only knows
// ASCII, so a keyword glued to an accented letter ("éshop") would match it.
const nonWordChar = `[^\p{L}\p{N}_]`

// wordPattern builds a case-insensitive whole-word alternation.
func wordPattern(phrases ...string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(?:^|` + nonWordChar + `)(?:` + strings.Join(quoted, "|") + `)(?:$|` + nonWordChar + `)`)
}

// speech-to-text engines often emit typographic apostrophes.
var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'")

// Classify labels an utterance. It has no side effects and does not depend
// on session state.
func Classify(text string) Signals {
	t := apostropheReplacer.Replace(text)
	return Signals{
		Repeat:         repeatPattern.MatchString(t),
		NotInterested:  notInterestedPattern.MatchString(t),
		NotOwner:       notOwnerPattern.MatchString(t),
		Busy:           busyPattern.MatchString(t),
		NonITBusiness:  nonITBusinessPattern.MatchString(t),
		OwnerConfirmed: ownerConfirmedPattern.MatchString(t),
	}
}

// Names lists the fired signals for logging.
func (s Signals) Names() []string {
	var names []string
	if s.Repeat {
		names = append(names, "repeat")
	}
	if s.NotInterested {
		names = append(names, "not_interested")
	}
	if s.NotOwner {
		names = append(names, "not_owner")
	}
	if s.Busy {
		names = append(names, "busy")
	}
	if s.NonITBusiness {
		names = append(names, "non_it_business")
	}
	if s.OwnerConfirmed {
		names = append(names, "owner_confirmed")
	}
	return names
}
