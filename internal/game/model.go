package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	StartingQuarter   = 1
	DefaultShareCount = int64(1_000_000)
	MaxShiftLevel     = 3
	MaxLogEntries     = 200

	// Per-field ceilings keep every engine product and sum inside int64.
	MaxProductionPerLine = int64(1_000_000_000)
	MaxHeadcountChange   = int64(1_000_000)
	MaxMachineTrade      = int64(1_000_000)
	MaxRegionalStaff     = int64(1_000_000)
	MaxMaintenanceHours  = int64(2160)
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrSessionNotFound = errors.New("session not found")
	ErrCompanyNotFound = errors.New("company not found")
	ErrQuarterMismatch = errors.New("quarter does not match session")
	ErrCompanyLocked   = errors.New("company is locked for this quarter")
	ErrUnknownStrategy = errors.New("unknown competitor strategy")
	ErrUnauthorized    = errors.New("unauthorized")
)

var idRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationErr("%s is required", field)
	}
	if !idRE.MatchString(id) {
		return validationErr("%s %q must be 1-64 characters of letters, digits, '_', '.', ':' or '-'", field, id)
	}
	return nil
}

func validateName(name string) error {
	if len(name) > 80 {
		return validationErr("company name must be at most 80 characters")
	}
	return nil
}

func DefaultMarket() MarketState {
	return MarketState{
		GDPGrowth:    1.02,
		InterestRate: decimal.RequireFromString("0.08"),
		MaterialCost: decimal.NewFromInt(15),
		TotalDemand:  10_000,
		Quarter:      StartingQuarter,
	}
}

func NewCompanyLedger(companyID, name string) CompanyLedger {
	if strings.TrimSpace(name) == "" {
		name = companyID
	}
	staff := make(map[Region]RegionalStaff, len(Regions))
	for _, r := range Regions {
		staff[r] = RegionalStaff{SalesReps: 4, MarketingStaff: 2}
	}
	return CompanyLedger{
		CompanyID:    companyID,
		Name:         name,
		SharePrice:   decimal.NewFromInt(1),
		ShareCount:   DefaultShareCount,
		Employees:    50,
		Morale:       75,
		Productivity: 1.0,
		Machines:     10,
		Inventory: map[Product]int64{
			P1: 500,
			P2: 200,
			P3: 0,
		},
		Cash:          decimal.NewFromInt(500_000),
		Loans:         decimal.Zero,
		NetWorth:      decimal.NewFromInt(1_000_000),
		RegionalStaff: staff,
		History:       []QuarterResult{},
	}
}

func evenMarketing(spend int64) map[Region]decimal.Decimal {
	out := make(map[Region]decimal.Decimal, len(Regions))
	for _, r := range Regions {
		out[r] = decimal.NewFromInt(spend)
	}
	return out
}

// DefaultDecisions returns the opening-quarter decision set handed to new
// players as a template.
func DefaultDecisions() Decisions {
	return Decisions{
		Products: map[Product]ProductDecision{
			P1: {Price: decimal.NewFromInt(100), Production: 2000, Marketing: evenMarketing(5000)},
			P2: {Price: decimal.NewFromInt(120), Production: 1000, Marketing: evenMarketing(4000)},
			P3: {
				Price:      decimal.NewFromInt(150),
				Production: 0,
				Marketing: map[Region]decimal.Decimal{
					South:  decimal.NewFromInt(2000),
					West:   decimal.NewFromInt(2000),
					North:  decimal.NewFromInt(2000),
					Export: decimal.Zero,
				},
			},
		},
		Operations: Operations{ShiftLevel: 1, MaintenanceHours: 40},
		Personnel: Personnel{
			WorkerWage:  decimal.NewFromInt(12),
			SalesSalary: decimal.NewFromInt(2000),
		},
		Finance: Finance{Borrow: decimal.Zero, Repay: decimal.Zero},
	}
}

// ValidateDecisions checks shape and sign constraints. Economic plausibility
// (over-production, unaffordable spend) is left to the engine.
func ValidateDecisions(d *Decisions) error {
	if d == nil {
		return validationErr("decisions are required")
	}
	for _, p := range Products {
		pd, ok := d.Products[p]
		if !ok {
			return validationErr("product %s is missing", p)
		}
		if !pd.Price.IsPositive() {
			return validationErr("product %s price must be > 0", p)
		}
		if pd.Production < 0 {
			return validationErr("product %s production must be >= 0", p)
		}
		if pd.Production > MaxProductionPerLine {
			return validationErr("product %s production must be <= %d", p, MaxProductionPerLine)
		}
		for r, spend := range pd.Marketing {
			if !isRegion(r) {
				return validationErr("product %s marketing has unknown region %q", p, r)
			}
			if spend.IsNegative() {
				return validationErr("product %s marketing in %s must be >= 0", p, r)
			}
		}
	}
	for p := range d.Products {
		if !isProduct(p) {
			return validationErr("unknown product %q", p)
		}
	}

	op := d.Operations
	if op.ShiftLevel < 1 || op.ShiftLevel > MaxShiftLevel {
		return validationErr("shift level must be between 1 and %d", MaxShiftLevel)
	}
	if op.MaintenanceHours < 0 || op.BuyMachines < 0 || op.SellMachines < 0 {
		return validationErr("operations counts must be >= 0")
	}
	if op.MaintenanceHours > MaxMaintenanceHours {
		return validationErr("maintenance hours must be <= %d", MaxMaintenanceHours)
	}
	if op.BuyMachines > MaxMachineTrade || op.SellMachines > MaxMachineTrade {
		return validationErr("machine trades must be <= %d", MaxMachineTrade)
	}

	pe := d.Personnel
	if pe.WorkerWage.IsNegative() || pe.SalesSalary.IsNegative() {
		return validationErr("personnel wages must be >= 0")
	}
	if pe.RecruitWorkers < 0 || pe.DismissWorkers < 0 {
		return validationErr("personnel counts must be >= 0")
	}
	if pe.RecruitWorkers > MaxHeadcountChange || pe.DismissWorkers > MaxHeadcountChange {
		return validationErr("personnel counts must be <= %d", MaxHeadcountChange)
	}

	for r, staff := range d.RegionalStaff {
		if !isRegion(r) {
			return validationErr("regional staff has unknown region %q", r)
		}
		if staff.SalesReps < 0 || staff.MarketingStaff < 0 {
			return validationErr("regional staff in %s must be >= 0", r)
		}
		if staff.SalesReps > MaxRegionalStaff || staff.MarketingStaff > MaxRegionalStaff {
			return validationErr("regional staff in %s must be <= %d", r, MaxRegionalStaff)
		}
	}

	if d.Finance.Borrow.IsNegative() || d.Finance.Repay.IsNegative() {
		return validationErr("finance amounts must be >= 0")
	}
	return nil
}

// addSat adds two non-negative counts, saturating at math.MaxInt64.
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func isProduct(p Product) bool {
	for _, known := range Products {
		if p == known {
			return true
		}
	}
	return false
}

func isRegion(r Region) bool {
	for _, known := range Regions {
		if r == known {
			return true
		}
	}
	return false
}
