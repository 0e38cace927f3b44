package domain

// WhitelistAll is the sentinel coin that matches every traded coin.
const WhitelistAll = "ALL"

// SubscriptionEntry is one subscriber account mirroring trades of a strategy.
// Whitelist is a true set; Amount is the USD size used for mirrored opens.
type SubscriptionEntry struct {
	ID        int      `json:"id"`
	Whitelist []string `json:"whitelist"`
	Amount    float64  `json:"amount"`
}

// WhitelistContains reports whether coin is mirrored by this entry, either
// explicitly or via the ALL sentinel.
func (e *SubscriptionEntry) WhitelistContains(coin string) bool {
	for _, c := range e.Whitelist {
		if c == coin || c == WhitelistAll {
			return true
		}
	}
	return false
}

// Strategy is a named book together with its subscriber list.
type Strategy struct {
	Name    string               `json:"strategy"`
	Entries []*SubscriptionEntry `json:"entries"`
}
