package domain

type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type Status string

const (
	StatusOpen  Status = "open"
	StatusClose Status = "close"
)

// Position is a single-sided leveraged exposure to one coin, sized in USD
// notional. While status is open, ExitPrice/GrossPnl/Pnl stay nil and
// ExitTime stays 0; a close sets all of them in one write.
type Position struct {
	ID           string   `json:"id"`
	CoinName     string   `json:"coinName"`
	PositionSide Side     `json:"positionSide"`
	Status       Status   `json:"status"`
	EntryTime    int64    `json:"entryTime"` // unix seconds
	ExitTime     int64    `json:"exitTime"`  // unix seconds, 0 while open
	EntryPrice   float64  `json:"entryPrice"`
	PositionSize float64  `json:"positionSize"` // USD notional
	ExitPrice    *float64 `json:"exitPrice"`
	GrossPnl     *float64 `json:"grossPnl"`
	Fee          float64  `json:"fee"`
	Pnl          *float64 `json:"pnl"`

	// Best/worst net profit seen over the position's life, baseline 0.
	MaxProfit     float64 `json:"maxProfit"`
	MinProfit     float64 `json:"minProfit"`
	MaxProfitTime int64   `json:"maxProfitTime"`
	MinProfitTime int64   `json:"minProfitTime"`
}

// Quantity is the coin amount backing the notional: positionSize / entryPrice.
func (p *Position) Quantity() float64 {
	return p.PositionSize / p.EntryPrice
}

// Candle is one fixed-granularity OHLC bar. Read-only, never persisted.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // unix seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// PositionFilter selects positions within one book. Zero-valued fields are
// ignored; coin matching is case-insensitive equality.
type PositionFilter struct {
	ID     string
	Coin   string
	Side   Side
	Status Status
}

func (f PositionFilter) IsZero() bool {
	return f.ID == "" && f.Coin == "" && f.Side == "" && f.Status == ""
}
