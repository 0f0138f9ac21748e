/*

This file contains the opportunity types. Opportunities are read-only to the
engine: an external feed refreshes them and the evaluator rejects rows whose
refresh timestamp exceeds the freshness bound.

*/

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a yield-bearing position offered by a protocol/network/asset
// combination with its current APY.
type Opportunity struct {
	ID          int64           `json:"opportunity_id"`
	Protocol    string          `json:"protocol"`
	Network     string          `json:"network"`
	Asset       string          `json:"asset"`
	APY         decimal.Decimal `json:"apy"` // percent, e.g. 6.2 for 6.2%
	TVLUSD      decimal.Decimal `json:"tvl_usd"`
	RiskLevel   int             `json:"risk_level"` // lower is safer
	RefreshedAt time.Time       `json:"refreshed_at"`
}

// Fresh reports whether the opportunity's data is recent enough to act upon.
func (o Opportunity) Fresh(now time.Time, bound time.Duration) bool {
	return now.Sub(o.RefreshedAt) <= bound
}

// Decision is the evaluator's verdict for one strategy against one snapshot.
type Decision struct {
	Fire     bool         `json:"fire"`
	Selected *Opportunity `json:"selected,omitempty"`
	Reason   string       `json:"reason"`
}
