// Package intent is the rule-based fallback used when no trained model can
// answer a chat message. It classifies an utterance against an ordered rule
// table, ranks items from a static catalog and composes a reply.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Intent names produced by Classify.
const (
	IntentTrackOrder     = "track_order"
	IntentReturns        = "returns"
	IntentSustainability = "sustainability"
	IntentPriceFilter    = "price_filter"
	IntentBrowse         = "browse_category"
	IntentGreet          = "greet"
	IntentHelp           = "help"
	IntentGeneral        = "general"

	moodIntentPrefix = "mood_"
)

// Slot keys set by Classify.
const (
	SlotMood              = "mood"
	SlotCategory          = "category"
	SlotPriceMax          = "price_max"
	SlotOrderID           = "order_id"
	SlotSustainabilityMin = "sustainability_min"
)

// DefaultPriceMax is the price ceiling used when a price question names no
// amount.
const DefaultPriceMax = 50

const sustainabilityThreshold = "0.8"

// Moods in rule priority order.
var Moods = []string{"tired", "stressed", "energetic", "excited", "professional", "casual", "festive"}

// MoodIntent returns the intent name for a mood.
func MoodIntent(mood string) string {
	return moodIntentPrefix + mood
}

// MoodOf returns the mood carried by a mood intent.
func MoodOf(intent string) (string, bool) {
	mood, ok := strings.CutPrefix(intent, moodIntentPrefix)
	return mood, ok && mood != ""
}

// Classification is the result of Classify.
type Classification struct {
	Intent string            `json:"intent"`
	Slots  map[string]string `json:"slots"`
	// Rule names the table entry that matched.
	Rule string `json:"rule"`
}

var (
	wordPattern    = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’-][\p{L}\p{N}]+)*`)
	integerPattern = regexp.MustCompile(`\d+`)
)

// utterance is the folded form every predicate runs against.
type utterance struct {
	words  map[string]bool
	padded string // words joined by single spaces, with a leading and trailing space
	number string // first integer-like token, or ""
}

func newUtterance(text string) utterance {
	folded := cases.Fold().String(text)
	tokens := wordPattern.FindAllString(folded, -1)
	u := utterance{
		words:  make(map[string]bool, len(tokens)),
		padded: " " + strings.Join(tokens, " ") + " ",
		number: integerPattern.FindString(folded),
	}
	for _, t := range tokens {
		u.words[strings.ReplaceAll(t, "’", "'")] = true
	}
	u.padded = strings.ReplaceAll(u.padded, "’", "'")
	return u
}

// has reports whether the utterance contains one of terms. Single words match
// whole tokens; multi-word terms match a run of tokens.
func (u utterance) has(terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(t, " ") {
			if strings.Contains(u.padded, " "+t+" ") {
				return true
			}
			continue
		}
		if u.words[t] {
			return true
		}
	}
	return false
}

type rule struct {
	name   string
	intent string
	match  func(u utterance) bool
	slots  func(u utterance, slots map[string]string)
}

var moodTerms = map[string][]string{
	"tired":        {"tired", "exhausted", "sleepy", "drained", "worn out", "need rest"},
	"stressed":     {"stressed", "stress", "anxious", "overwhelmed", "tense", "unwind"},
	"energetic":    {"energetic", "energized", "pumped", "workout", "active"},
	"excited":      {"excited", "thrilled", "can't wait", "hyped"},
	"professional": {"professional", "office", "business", "meeting", "interview"},
	"casual":       {"casual", "relaxed", "chill", "laid-back", "laid back", "everyday"},
	"festive":      {"festive", "party", "celebration", "celebrate", "holiday", "holidays", "birthday", "christmas"},
}

var categoryTerms = []struct {
	category string
	terms    []string
}{
	{"clothing", []string{"clothes", "clothing", "apparel", "outfit", "shirt", "tee", "t-shirt", "jacket", "joggers", "sweater", "hoodie", "dress", "blazer"}},
	{"footwear", []string{"shoes", "shoe", "sneakers", "boots", "slippers", "footwear"}},
	{"accessories", []string{"accessories", "accessory", "bag", "bags", "tote", "wallet", "watch"}},
	{"home", []string{"home", "blanket", "candle", "candles", "decor", "lights"}},
	{"lifestyle", []string{"lifestyle", "bottle", "yoga", "mat"}},
}

func categoryOf(u utterance) string {
	for _, c := range categoryTerms {
		if u.has(c.terms...) {
			return c.category
		}
	}
	return ""
}

// rules is evaluated top to bottom; the first match wins.
var rules = buildRules()

func buildRules() []rule {
	rs := []rule{
		{
			name:   "order-tracking",
			intent: IntentTrackOrder,
			match: func(u utterance) bool {
				return u.has("track", "tracking", "order status", "where is my order", "where's my order", "my package", "shipment")
			},
			slots: func(u utterance, s map[string]string) {
				if u.number != "" {
					s[SlotOrderID] = u.number
				}
			},
		},
		{
			name:   "returns",
			intent: IntentReturns,
			match: func(u utterance) bool {
				return u.has("return", "returns", "refund", "exchange", "send back", "send it back")
			},
		},
	}

	for _, mood := range Moods {
		terms := moodTerms[mood]
		rs = append(rs, rule{
			name:   "mood:" + mood,
			intent: MoodIntent(mood),
			match:  func(u utterance) bool { return u.has(terms...) },
			slots:  func(_ utterance, s map[string]string) { s[SlotMood] = mood },
		})
	}

	return append(rs,
		rule{
			name:   "sustainability",
			intent: IntentSustainability,
			match: func(u utterance) bool {
				return u.has("eco", "eco-friendly", "sustainable", "sustainability", "green", "recycled", "organic", "environment", "environmentally friendly")
			},
			slots: func(_ utterance, s map[string]string) { s[SlotSustainabilityMin] = sustainabilityThreshold },
		},
		rule{
			name:   "price-ceiling",
			intent: IntentPriceFilter,
			match: func(u utterance) bool {
				return u.has("under", "below", "less than", "cheaper than", "budget", "cheap", "affordable", "max", "maximum")
			},
			slots: func(u utterance, s map[string]string) {
				s[SlotPriceMax] = strconv.Itoa(DefaultPriceMax)
				if u.number != "" {
					s[SlotPriceMax] = u.number
				}
			},
		},
		rule{
			name:   "category",
			intent: IntentBrowse,
			match:  func(u utterance) bool { return categoryOf(u) != "" },
		},
		rule{
			name:   "greeting",
			intent: IntentGreet,
			match:  func(u utterance) bool { return u.has("hi", "hello", "hey", "hiya", "good morning", "good afternoon", "good evening") },
		},
		rule{
			name:   "help",
			intent: IntentHelp,
			match:  func(u utterance) bool { return u.has("help", "assist", "support", "what can you do") },
		},
	)
}

// Classify maps an utterance to an intent and its slots. It never fails:
// anything the table does not match is IntentGeneral.
func Classify(text string) Classification {
	u := newUtterance(text)
	slots := make(map[string]string)
	if c := categoryOf(u); c != "" {
		slots[SlotCategory] = c
	}

	for _, r := range rules {
		if !r.match(u) {
			continue
		}
		if r.slots != nil {
			r.slots(u, slots)
		}
		return Classification{Intent: r.intent, Slots: slots, Rule: r.name}
	}
	return Classification{Intent: IntentGeneral, Slots: slots, Rule: "default"}
}
