package domain

import "context"

// PositionStore is the sole source of truth for positions. Every method works
// against one book (a named position table); implementations validate the
// book name. Engines never cache across calls: re-read, then mutate.
type PositionStore interface {
	Find(ctx context.Context, book string, f PositionFilter) ([]*Position, error)
	FindOne(ctx context.Context, book, id string) (*Position, error)
	Insert(ctx context.Context, book string, p *Position) error
	Update(ctx context.Context, book string, p *Position) error
	Delete(ctx context.Context, book, id string) error
	DeleteMany(ctx context.Context, book string, f PositionFilter) (int64, error)
	Count(ctx context.Context, book string, f PositionFilter) (int64, error)
}

// SubscriptionStore persists strategy documents and their subscriber entries.
// FindEntry returns (nil, nil) when the entry does not exist. SaveEntry
// upserts the amount and adds the entry's whitelist coins without removing
// existing ones; RemoveCoin is the only way a coin leaves a whitelist.
type SubscriptionStore interface {
	EnsureStrategy(ctx context.Context, name string) error
	FindEntry(ctx context.Context, strategy string, id int) (*SubscriptionEntry, error)
	SaveEntry(ctx context.Context, strategy string, e *SubscriptionEntry) error
	RemoveCoin(ctx context.Context, strategy string, id int, coin string) error
	List(ctx context.Context, strategy string) ([]*Strategy, error)
}

// PriceOracle supplies current and historical prices for a coin. Both calls
// are fallible and bounded by adapter-level timeouts (price ~5s, candles
// ~10s); failures surface as ErrUpstream.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, coin string) (float64, error)
	// HistoricalCandles returns ordered fixed-granularity bars covering
	// [start, end] unix seconds. A single bounded page is assumed.
	HistoricalCandles(ctx context.Context, coin string, start, end int64) ([]Candle, error)
}

// SubscriberClient issues mirrored commands to one subscriber account.
type SubscriberClient interface {
	OpenPosition(ctx context.Context, subscriberID int, side Side, coin string, amountUSD float64) error
	ClosePosition(ctx context.Context, subscriberID int, side Side, coin string) error
	// ListOpenSides reports which sides the subscriber currently holds open
	// for the coin.
	ListOpenSides(ctx context.Context, subscriberID int, coin string) (map[Side]bool, error)
}
