package intent

// Item is a catalog entry returned by Recommend.
type Item struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Price               float64  `json:"price"`
	Category            string   `json:"category"`
	Rating              float64  `json:"rating"`
	ImageURL            string   `json:"image_url"`
	SustainabilityScore float64  `json:"sustainability_score"`
	Moods               []string `json:"moods"`
}

// moodKeywords are the descriptors that make an item a good fit for a mood.
// Mood rankings prefer items whose name or description uses more of them.
var moodKeywords = map[string][]string{
	"tired":        {"comfortable", "cozy", "soft", "relaxing", "gentle"},
	"energetic":    {"dynamic", "vibrant", "active", "sporty", "bold"},
	"stressed":     {"calming", "peaceful", "soothing", "comfortable", "simple"},
	"excited":      {"fun", "colorful", "trendy", "new", "exciting"},
	"professional": {"formal", "elegant", "sophisticated", "business", "classic"},
	"casual":       {"relaxed", "everyday", "simple", "versatile", "comfortable"},
	"festive":      {"celebration", "party", "special", "decorative", "joyful"},
}

// DefaultCatalog returns the built-in catalog in declaration order. Ties in
// every ranking are broken by this order.
func DefaultCatalog() []Item {
	return []Item{
		{ID: "P001", Name: "Ultra Comfort Joggers", Description: "Soft cotton joggers perfect for relaxation", Price: 49.99, Category: "clothing", Rating: 4.7, ImageURL: "/products/joggers.jpg", SustainabilityScore: 0.85, Moods: []string{"tired", "stressed", "casual"}},
		{ID: "P002", Name: "Professional Laptop Bag", Description: "Elegant leather laptop bag for business", Price: 89.99, Category: "accessories", Rating: 4.8, ImageURL: "/products/laptop-bag.jpg", SustainabilityScore: 0.72, Moods: []string{"professional"}},
		{ID: "P003", Name: "Eco-Friendly Water Bottle", Description: "Sustainable stainless steel water bottle", Price: 24.99, Category: "lifestyle", Rating: 4.9, ImageURL: "/products/bottle.jpg", SustainabilityScore: 0.95, Moods: []string{"energetic", "casual"}},
		{ID: "P004", Name: "Running Sneakers Pro", Description: "High-performance running shoes with cushioning for active days", Price: 129.99, Category: "footwear", Rating: 4.6, ImageURL: "/products/sneakers.jpg", SustainabilityScore: 0.68, Moods: []string{"energetic", "excited"}},
		{ID: "P005", Name: "Cozy Throw Blanket", Description: "Soft fleece blanket for ultimate comfort", Price: 39.99, Category: "home", Rating: 4.8, ImageURL: "/products/blanket.jpg", SustainabilityScore: 0.78, Moods: []string{"tired", "stressed"}},
		{ID: "P006", Name: "Merino Lounge Sweater", Description: "Cozy, comfortable knit for slow evenings", Price: 69.99, Category: "clothing", Rating: 4.6, ImageURL: "/products/sweater.jpg", SustainabilityScore: 0.81, Moods: []string{"tired", "casual"}},
		{ID: "P007", Name: "Tailored Wool Blazer", Description: "Classic formal blazer with an elegant cut", Price: 159.00, Category: "clothing", Rating: 4.5, ImageURL: "/products/blazer.jpg", SustainabilityScore: 0.64, Moods: []string{"professional"}},
		{ID: "P008", Name: "Lavender Soy Candle", Description: "Calming, soothing scent in a simple glass jar", Price: 18.50, Category: "home", Rating: 4.7, ImageURL: "/products/candle.jpg", SustainabilityScore: 0.88, Moods: []string{"stressed", "festive"}},
		{ID: "P009", Name: "Neon Windbreaker", Description: "Vibrant, bold shell for sporty days out", Price: 74.00, Category: "clothing", Rating: 4.3, ImageURL: "/products/windbreaker.jpg", SustainabilityScore: 0.55, Moods: []string{"energetic", "excited"}},
		{ID: "P010", Name: "Recycled Canvas Tote", Description: "Versatile everyday tote made from recycled canvas", Price: 29.00, Category: "accessories", Rating: 4.4, ImageURL: "/products/tote.jpg", SustainabilityScore: 0.92, Moods: []string{"casual"}},
		{ID: "P011", Name: "Sequin Party Dress", Description: "Fun, colorful dress for a special celebration", Price: 119.00, Category: "clothing", Rating: 4.4, ImageURL: "/products/dress.jpg", SustainabilityScore: 0.41, Moods: []string{"festive", "excited"}},
		{ID: "P012", Name: "Leather Oxford Shoes", Description: "Sophisticated classic shoes for business wear", Price: 139.00, Category: "footwear", Rating: 4.7, ImageURL: "/products/oxfords.jpg", SustainabilityScore: 0.60, Moods: []string{"professional"}},
		{ID: "P013", Name: "Organic Cotton Tee", Description: "Simple, versatile tee in organic cotton", Price: 22.00, Category: "clothing", Rating: 4.5, ImageURL: "/products/tee.jpg", SustainabilityScore: 0.90, Moods: []string{"casual", "energetic"}},
		{ID: "P014", Name: "Wool House Slippers", Description: "Soft, gentle slippers that keep feet warm", Price: 34.99, Category: "footwear", Rating: 4.6, ImageURL: "/products/slippers.jpg", SustainabilityScore: 0.83, Moods: []string{"tired"}},
		{ID: "P015", Name: "String Light Garland", Description: "Decorative lights for a joyful party", Price: 27.50, Category: "home", Rating: 4.2, ImageURL: "/products/lights.jpg", SustainabilityScore: 0.58, Moods: []string{"festive"}},
		{ID: "P016", Name: "Bamboo Yoga Mat", Description: "Peaceful practice on a sustainable, active-ready mat", Price: 45.00, Category: "lifestyle", Rating: 4.8, ImageURL: "/products/yoga-mat.jpg", SustainabilityScore: 0.89, Moods: []string{"stressed", "energetic"}},
	}
}
