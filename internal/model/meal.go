package model

// MealCandidate is one meal extracted from a search results page.
//
// Rank is the 0-based position in the returned list. Ranks are dense and
// follow extraction order, never price or delivery time.
type MealCandidate struct {
	Rank         int    `yaml:"index"                   json:"index"`
	Name         string `yaml:"name"                    json:"name"`
	Price        string `yaml:"price"                   json:"price"`
	DeliveryTime string `yaml:"delivery_time,omitempty" json:"delivery_time,omitempty"`
	Merchant     string `yaml:"merchant,omitempty"      json:"merchant,omitempty"`
}

// Rerank assigns dense ranks starting at 0 in slice order and truncates the
// list to at most k entries (k <= 0 means no limit).
func Rerank(meals []MealCandidate, k int) []MealCandidate {
	if k > 0 && len(meals) > k {
		meals = meals[:k]
	}
	for i := range meals {
		meals[i].Rank = i
	}
	return meals
}

// OrderStatus is the latest order state read from the orders tab.
type OrderStatus struct {
	Status           string `yaml:"status"                      json:"status"`
	Progress         string `yaml:"progress,omitempty"          json:"progress,omitempty"`
	EstimatedArrival string `yaml:"estimated_arrival,omitempty" json:"estimated_arrival,omitempty"`
}
