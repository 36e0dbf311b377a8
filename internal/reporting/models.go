package reporting

import "time"

// Period is a trailing reporting window ending now.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
)

func (p Period) days() int {
	switch p {
	case Period7d:
		return 7
	case Period90d:
		return 90
	default:
		return 30
	}
}

// Normalize maps unknown or empty periods to the 30 day default.
func (p Period) Normalize() Period {
	switch p {
	case Period7d, Period30d, Period90d:
		return p
	default:
		return Period30d
	}
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DailyStats sums settled amounts of one UTC day by transaction type.
type DailyStats struct {
	Date       string `json:"date"`
	Deposit    int64  `json:"deposit"`
	Payment    int64  `json:"payment"`
	Withdrawal int64  `json:"withdrawal"`
	Refund     int64  `json:"refund"`
	Total      int64  `json:"total"`
	Count      int    `json:"count"`
}

type TransactionStats struct {
	Period Period       `json:"period"`
	Range  TimeRange    `json:"range"`
	Data   []DailyStats `json:"data"`
}

type SpentSummary struct {
	UserID     string `json:"user_id"`
	TotalSpent int64  `json:"total_spent"`
	Payments   int    `json:"payments"`
}
