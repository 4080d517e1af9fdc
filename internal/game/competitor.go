package game

import (
	"github.com/shopspring/decimal"
)

const (
	StrategyNoOp      = "noop"
	StrategyRuleBased = "rule-based"
	StrategyScripted  = "scripted"
)

// CompetitorStrategy supplies decisions for an AI seat at tick time. A false
// second return means the company sits the quarter out.
type CompetitorStrategy interface {
	Decide(ledger CompanyLedger, market MarketState) (Decisions, bool)
}

type NoOpStrategy struct{}

func (NoOpStrategy) Decide(CompanyLedger, MarketState) (Decisions, bool) {
	return Decisions{}, false
}

// RuleBasedStrategy starts from the opening template each quarter and nudges
// price and production off the company's last result.
type RuleBasedStrategy struct {
	// TargetStock is the closing inventory per product the strategy aims for.
	TargetStock int64
}

func (s RuleBasedStrategy) Decide(ledger CompanyLedger, market MarketState) (Decisions, bool) {
	d := DefaultDecisions()
	target := s.TargetStock
	if target <= 0 {
		target = 300
	}

	var last *QuarterResult
	if n := len(ledger.History); n > 0 {
		last = &ledger.History[n-1]
	}

	step := decimal.RequireFromString("0.05")
	for _, p := range Products {
		pd := d.Products[p]
		if last != nil {
			for _, ps := range last.SalesByProduct {
				if ps.Product != p {
					continue
				}
				switch {
				case ps.UnitsDemanded > ps.UnitsSold:
					// Stocked out: raise price and build more.
					pd.Price = pd.Price.Mul(decimal.NewFromInt(1).Add(step)).Round(2)
					pd.Production = max(pd.Production, ps.UnitsDemanded-ledger.Inventory[p]+target)
				case ps.ClosingStock > 2*target:
					pd.Price = pd.Price.Mul(decimal.NewFromInt(1).Sub(step)).Round(2)
					pd.Production = max(0, target-ledger.Inventory[p])
				}
			}
		}
		d.Products[p] = pd
	}

	if last != nil && last.Financials.NetProfit.IsNegative() && ledger.Cash.IsNegative() {
		d.Finance.Borrow = ledger.Cash.Neg().Round(0)
	}
	if ledger.Morale < 50 {
		d.Personnel.WorkerWage = decimal.NewFromInt(14)
	}
	if ledger.Cash.GreaterThan(decimal.NewFromInt(1_000_000)) && ledger.Loans.IsPositive() {
		d.Finance.Repay = ledger.Loans
	}
	return d, true
}

// ScriptedStrategy replays a fixed decision list, one entry per quarter. The
// last entry repeats once the script runs out.
type ScriptedStrategy struct {
	Script []Decisions
}

func (s ScriptedStrategy) Decide(_ CompanyLedger, market MarketState) (Decisions, bool) {
	if len(s.Script) == 0 {
		return Decisions{}, false
	}
	idx := market.Quarter - StartingQuarter
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Script) {
		idx = len(s.Script) - 1
	}
	return s.Script[idx].Clone(), true
}

func defaultStrategies() map[string]CompetitorStrategy {
	return map[string]CompetitorStrategy{
		StrategyNoOp:      NoOpStrategy{},
		StrategyRuleBased: RuleBasedStrategy{TargetStock: 300},
		StrategyScripted:  ScriptedStrategy{Script: []Decisions{DefaultDecisions()}},
	}
}
