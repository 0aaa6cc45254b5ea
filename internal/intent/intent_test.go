package intent

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestClassify_TiredCozyClothes(t *testing.T) {
	c := Classify("I'm tired, show me cozy clothes")

	assert.Equal(t, MoodIntent("tired"), c.Intent)
	assert.Equal(t, "mood:tired", c.Rule)
	assert.Equal(t, "tired", c.Slots[SlotMood])
	assert.Equal(t, "clothing", c.Slots[SlotCategory])

	items := NewEngine().Recommend(c)
	require.NotEmpty(t, items)
	for _, it := range items {
		assert.Contains(t, it.Moods, "tired", "item %s", it.ID)
	}
	assert.Equal(t, []string{"P006", "P001"}, ids(items))
}

func TestClassify_TrackOrderIsDeterministic(t *testing.T) {
	first := Classify("track my order")
	assert.Equal(t, IntentTrackOrder, first.Intent)
	assert.NotContains(t, first.Slots, SlotOrderID)

	Classify("I'm tired, show me cozy clothes")
	Classify("shoes under 100")
	NewEngine().Respond("surprise me")

	assert.Equal(t, first, Classify("track my order"))
	assert.Equal(t, first, Classify("TRACK MY ORDER"))
}

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		text   string
		intent string
		slots  map[string]string
	}{
		{"where's my order 4512?", IntentTrackOrder, map[string]string{SlotOrderID: "4512"}},
		{"I want to return these shoes", IntentReturns, map[string]string{SlotCategory: "footwear"}},
		{"stressed about an interview", MoodIntent("stressed"), map[string]string{SlotMood: "stressed"}},
		{"party outfit please", MoodIntent("festive"), map[string]string{SlotMood: "festive", SlotCategory: "clothing"}},
		{"eco-friendly shoes under 100", IntentSustainability, map[string]string{SlotCategory: "footwear", SlotSustainabilityMin: "0.8"}},
		{"shoes under 100", IntentPriceFilter, map[string]string{SlotCategory: "footwear", SlotPriceMax: "100"}},
		{"something cheap", IntentPriceFilter, map[string]string{SlotPriceMax: "50"}},
		{"show me bags", IntentBrowse, map[string]string{SlotCategory: "accessories"}},
		{"Hello there", IntentGreet, map[string]string{}},
		{"can you help me", IntentHelp, map[string]string{}},
		{"asdf qwerty", IntentGeneral, map[string]string{}},
		{"", IntentGeneral, map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := Classify(tt.text)
			assert.Equal(t, tt.intent, c.Intent)
			assert.Equal(t, tt.slots, c.Slots)
		})
	}
}

func TestRecommend_Rankings(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		text string
		want []string
	}{
		// Price ascending, capped at the default ceiling.
		{"something cheap", []string{"P008", "P013", "P003", "P015", "P010"}},
		{"shoes under 100", []string{"P014"}},
		// Sustainability descending.
		{"anything sustainable", []string{"P003", "P010", "P013", "P016", "P008"}},
		// Rating descending; P007 and P013 tie and keep catalog order.
		{"show me clothes", []string{"P001", "P006", "P007", "P013", "P011"}},
		{"show me bags", []string{"P002", "P010"}},
		// No tired accessories: the mood alone decides.
		{"so tired, want a bag", []string{"P005", "P006", "P014", "P001"}},
		{"track my order", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := e.Recommend(Classify(tt.text))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestRecommend_Limit(t *testing.T) {
	got := NewEngine(WithLimit(2)).Recommend(Classify("anything sustainable"))
	assert.Equal(t, []string{"P003", "P010"}, ids(got))
}

func TestRecommend_GeneralUsesShuffler(t *testing.T) {
	identity := ShuffleFunc(func(int, func(i, j int)) {})
	got := NewEngine(WithShuffler(identity)).Recommend(Classify("surprise me"))
	assert.Equal(t, []string{"P001", "P002", "P003", "P004", "P005"}, ids(got))

	a := NewEngine(WithShuffler(rand.New(rand.NewPCG(7, 11)))).Recommend(Classify("surprise me"))
	b := NewEngine(WithShuffler(rand.New(rand.NewPCG(7, 11)))).Recommend(Classify("surprise me"))
	assert.Len(t, a, DefaultLimit)
	assert.Equal(t, ids(a), ids(b))
}

func TestRecommend_DoesNotReorderCatalog(t *testing.T) {
	e := NewEngine()
	e.Recommend(Classify("something cheap"))
	e.Recommend(Classify("surprise me"))
	assert.Equal(t, ids(DefaultCatalog()), ids(e.catalog))
}

func TestRespond(t *testing.T) {
	e := NewEngine()

	r := e.Respond("I'm tired, show me cozy clothes")
	assert.Equal(t, MoodIntent("tired"), r.Intent)
	assert.Equal(t, "You sound like you need comfort! Here are some cozy options:\n\n"+
		"• Merino Lounge Sweater - $69.99 ⭐ 4.6\n"+
		"• Ultra Comfort Joggers - $49.99 ⭐ 4.7\n\n"+
		"Want more details on any of these?", r.Text)
	assert.Len(t, r.Items, 2)

	r = e.Respond("party outfit please")
	assert.Contains(t, r.Text, "Here's what I found for you:")

	r = e.Respond("track my order")
	assert.Equal(t, "I need your order number to track it. What's your order ID?", r.Text)
	assert.Empty(t, r.Items)

	r = e.Respond("track order 77")
	assert.Contains(t, r.Text, "order 77")

	r = e.Respond("eco-friendly bags under 10")
	assert.Equal(t, IntentSustainability, r.Intent)
	assert.Contains(t, r.Text, "Recycled Canvas Tote")

	r = e.Respond("accessories under 10")
	assert.Equal(t, noMatchText, r.Text)

	r = e.Respond("can you help me")
	assert.Equal(t, helpText, r.Text)
}

func TestRespond_Concurrent(t *testing.T) {
	e := NewEngine()
	want := e.Respond("I'm tired, show me cozy clothes")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, e.Respond("I'm tired, show me cozy clothes"))
			e.Respond("surprise me")
		}()
	}
	wg.Wait()
}
