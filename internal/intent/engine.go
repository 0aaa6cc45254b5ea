package intent

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

// DefaultLimit is the number of items Recommend returns at most.
const DefaultLimit = 5

// Shuffler permutes n elements through swap. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// ShuffleFunc adapts a function to Shuffler.
type ShuffleFunc func(n int, swap func(i, j int))

func (f ShuffleFunc) Shuffle(n int, swap func(i, j int)) { f(n, swap) }

// Option configures an Engine.
type Option func(*Engine)

// WithShuffler sets the randomness used by the general branch. A *rand.Rand
// is not safe for concurrent use; the default shuffler is.
func WithShuffler(s Shuffler) Option {
	return func(e *Engine) { e.shuffler = s }
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(items []Item) Option {
	return func(e *Engine) { e.catalog = slices.Clone(items) }
}

// WithLimit sets the maximum number of recommended items.
func WithLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// Engine ranks catalog items for a classification and composes replies. It
// is not modified after NewEngine returns.
type Engine struct {
	catalog  []Item
	limit    int
	shuffler Shuffler
	fit      map[string]map[string]int // mood -> item id -> keyword hits
}

// NewEngine creates an Engine over the built-in catalog.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		catalog:  DefaultCatalog(),
		limit:    DefaultLimit,
		shuffler: ShuffleFunc(rand.Shuffle),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fit = moodFit(e.catalog)
	return e
}

// Catalog returns a copy of the items the engine recommends from.
func (e *Engine) Catalog() []Item {
	return slices.Clone(e.catalog)
}

func moodFit(catalog []Item) map[string]map[string]int {
	fit := make(map[string]map[string]int, len(moodKeywords))
	for mood, keywords := range moodKeywords {
		hits := make(map[string]int, len(catalog))
		for _, it := range catalog {
			u := newUtterance(it.Name + " " + it.Description)
			for _, k := range keywords {
				if u.has(k) {
					hits[it.ID]++
				}
			}
		}
		fit[mood] = hits
	}
	return fit
}

// Recommend returns up to the engine limit of catalog items for c, ranked by
// the intent's key. Ties keep catalog order. Only the general intent is
// shuffled. Intents that are not about products return nil.
func (e *Engine) Recommend(c Classification) []Item {
	category := c.Slots[SlotCategory]

	if mood, ok := MoodOf(c.Intent); ok {
		items := e.filter(func(it Item) bool { return slices.Contains(it.Moods, mood) && inCategory(it, category) })
		if len(items) == 0 && category != "" {
			items = e.filter(func(it Item) bool { return slices.Contains(it.Moods, mood) })
		}
		hits := e.fit[mood]
		return e.top(items, func(a, b Item) int {
			if n := cmp.Compare(hits[b.ID], hits[a.ID]); n != 0 {
				return n
			}
			return cmp.Compare(b.Rating, a.Rating)
		})
	}

	switch c.Intent {
	case IntentGeneral:
		items := slices.Clone(e.catalog)
		e.shuffler.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		return e.truncate(items)

	case IntentSustainability:
		floor := slotFloat(c.Slots, SlotSustainabilityMin, 0.8)
		items := e.filter(func(it Item) bool { return it.SustainabilityScore >= floor && inCategory(it, category) })
		return e.top(items, func(a, b Item) int { return cmp.Compare(b.SustainabilityScore, a.SustainabilityScore) })

	case IntentPriceFilter:
		ceiling := slotFloat(c.Slots, SlotPriceMax, DefaultPriceMax)
		items := e.filter(func(it Item) bool { return it.Price <= ceiling && inCategory(it, category) })
		return e.top(items, func(a, b Item) int { return cmp.Compare(a.Price, b.Price) })

	case IntentBrowse:
		items := e.filter(func(it Item) bool { return inCategory(it, category) })
		return e.top(items, func(a, b Item) int { return cmp.Compare(b.Rating, a.Rating) })
	}
	return nil
}

func inCategory(it Item, category string) bool {
	return category == "" || it.Category == category
}

func slotFloat(slots map[string]string, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(slots[key], 64); err == nil {
		return v
	}
	return def
}

func (e *Engine) filter(keep func(Item) bool) []Item {
	var out []Item
	for _, it := range e.catalog {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (e *Engine) top(items []Item, compare func(a, b Item) int) []Item {
	slices.SortStableFunc(items, compare)
	return e.truncate(items)
}

func (e *Engine) truncate(items []Item) []Item {
	if len(items) > e.limit {
		items = items[:e.limit]
	}
	return items
}

// Reply is the fallback answer to a chat message.
type Reply struct {
	Intent string            `json:"intent"`
	Slots  map[string]string `json:"slots"`
	Text   string            `json:"text"`
	Items  []Item            `json:"items"`
}

// Respond classifies text, recommends items and composes the reply text.
func (e *Engine) Respond(text string) Reply {
	c := Classify(text)
	items := e.Recommend(c)
	return Reply{
		Intent: c.Intent,
		Slots:  c.Slots,
		Text:   compose(c, items),
		Items:  items,
	}
}

var moodIntros = map[string]string{
	"tired":        "You sound like you need comfort! Here are some cozy options:",
	"energetic":    "Love the energy! Check out these dynamic choices:",
	"stressed":     "Let's find something to help you unwind:",
	"excited":      "Great vibes! These might match your excitement:",
	"professional": "Here are some professional options for you:",
	"casual":       "Perfect for a laid-back vibe:",
}

const (
	noMatchText = "I couldn't find products matching your criteria. Would you like to try something different?"
	helpText    = "I'm not quite sure what you mean. Here's what I can help with:\n\n" +
		"• Product recommendations\n" +
		"• Order tracking\n" +
		"• Returns & exchanges\n" +
		"• Finding eco-friendly products\n" +
		"• Mood-based shopping\n\n" +
		"What would you like to do?"
	moreDetails = "Want more details on any of these?"
)

func compose(c Classification, items []Item) string {
	switch c.Intent {
	case IntentTrackOrder:
		id := c.Slots[SlotOrderID]
		if id == "" {
			return "I need your order number to track it. What's your order ID?"
		}
		return fmt.Sprintf("I can't reach order tracking right now, so I couldn't look up order %s. Please try again in a moment.", id)
	case IntentReturns:
		return "I can help with returns and exchanges. Tell me your order number and which item you'd like to send back."
	case IntentGreet:
		return "Hi! I'm your shopping assistant. Tell me how you're feeling or what you're looking for."
	case IntentHelp:
		return helpText
	case IntentGeneral:
		if len(items) == 0 {
			return helpText
		}
		return "Not sure what you're after? Here are a few picks:\n\n" + formatItems(items) +
			"\n\nYou can also ask me to track an order or find eco-friendly products."
	}

	if len(items) == 0 {
		return noMatchText
	}
	intro := "Check out these recommendations:"
	if mood, ok := MoodOf(c.Intent); ok {
		intro = "Here's what I found for you:"
		if s, ok := moodIntros[mood]; ok {
			intro = s
		}
	} else if c.Intent == IntentSustainability {
		intro = "🌱 These picks score highest on sustainability:"
	}
	return intro + "\n\n" + formatItems(items) + "\n\n" + moreDetails
}

func formatItems(items []Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("• %s - $%.2f ⭐ %.1f", it.Name, it.Price, it.Rating)
	}
	return strings.Join(lines, "\n")
}
