package game

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Params holds every tunable constant of the quarterly model. Zero values are
// not meaningful; start from DefaultParams and override.
type Params struct {
	ShockProbability    float64 `yaml:"shock_probability"`
	InterestShock       float64 `yaml:"interest_shock"`
	MaterialShockFactor float64 `yaml:"material_shock_factor"`

	ReferenceWage    float64 `yaml:"reference_wage"`
	HighWageRatio    float64 `yaml:"high_wage_ratio"`
	LowWageRatio     float64 `yaml:"low_wage_ratio"`
	HighWageMorale   float64 `yaml:"high_wage_morale"`
	LowWageMorale    float64 `yaml:"low_wage_morale"`
	DismissalMorale  float64 `yaml:"dismissal_morale"`
	BaseProductivity float64 `yaml:"base_productivity"`
	ProductivitySpan float64 `yaml:"productivity_span"`

	UnitsPerMachine   float64    `yaml:"units_per_machine"`
	ShiftMultipliers  [3]float64 `yaml:"shift_multipliers"`
	ShiftPremiums     [3]float64 `yaml:"shift_premiums"`
	LaborHoursPerUnit float64    `yaml:"labor_hours_per_unit"`
	MaintenanceRate   float64    `yaml:"maintenance_rate"`
	MachinePrice      float64    `yaml:"machine_price"`
	MachineSalePrice  float64    `yaml:"machine_sale_price"`
	MachineBookValue  float64    `yaml:"machine_book_value"`
	DepreciationRate  float64    `yaml:"depreciation_rate"`

	ReferencePrice   float64 `yaml:"reference_price"`
	PriceElasticity  float64 `yaml:"price_elasticity"`
	MarketingDivisor float64 `yaml:"marketing_divisor"`
	DemandScale      float64 `yaml:"demand_scale"`
	RegionBaseWeight float64 `yaml:"region_base_weight"`

	EmployeeSalary      float64 `yaml:"employee_salary"`
	SalesSalaryFactor   float64 `yaml:"sales_salary_factor"`
	SalesRepCost        float64 `yaml:"sales_rep_cost"`
	MarketingStaffCost  float64 `yaml:"marketing_staff_cost"`
	TaxRate             float64 `yaml:"tax_rate"`
	EarningsMultiple    float64 `yaml:"earnings_multiple"`
	SharePriceFloor     float64 `yaml:"share_price_floor"`
	InterestPeriodsYear float64 `yaml:"interest_periods_year"`
}

func DefaultParams() Params {
	return Params{
		ShockProbability:    0.10,
		InterestShock:       0.02,
		MaterialShockFactor: 1.15,

		ReferenceWage:    12,
		HighWageRatio:    1.1,
		LowWageRatio:     0.9,
		HighWageMorale:   5,
		LowWageMorale:    -10,
		DismissalMorale:  -15,
		BaseProductivity: 0.8,
		ProductivitySpan: 0.4,

		UnitsPerMachine:   500,
		ShiftMultipliers:  [3]float64{1, 1.5, 2},
		ShiftPremiums:     [3]float64{1, 1.3, 1.5},
		LaborHoursPerUnit: 1.5,
		MaintenanceRate:   20,
		MachinePrice:      50_000,
		MachineSalePrice:  25_000,
		MachineBookValue:  40_000,
		DepreciationRate:  500,

		ReferencePrice:   150,
		PriceElasticity:  1.5,
		MarketingDivisor: 10,
		DemandScale:      0.1,
		RegionBaseWeight: 1000,

		EmployeeSalary:      3000,
		SalesSalaryFactor:   10,
		SalesRepCost:        2500,
		MarketingStaffCost:  3000,
		TaxRate:             0.20,
		EarningsMultiple:    5,
		SharePriceFloor:     0.10,
		InterestPeriodsYear: 4,
	}
}

func (p Params) Validate() error {
	positive := map[string]float64{
		"reference_wage":        p.ReferenceWage,
		"units_per_machine":     p.UnitsPerMachine,
		"reference_price":       p.ReferencePrice,
		"marketing_divisor":     p.MarketingDivisor,
		"interest_periods_year": p.InterestPeriodsYear,
		"material_shock_factor": p.MaterialShockFactor,
	}
	for name, v := range positive {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if p.ShockProbability < 0 || p.ShockProbability > 1 {
		return fmt.Errorf("shock_probability must be within [0,1]")
	}
	if p.TaxRate < 0 || p.TaxRate > 1 {
		return fmt.Errorf("tax_rate must be within [0,1]")
	}
	for i := range p.ShiftMultipliers {
		if p.ShiftMultipliers[i] <= 0 || p.ShiftPremiums[i] <= 0 {
			return fmt.Errorf("shift level %d multipliers must be > 0", i+1)
		}
	}
	if p.BaseProductivity <= 0 {
		return fmt.Errorf("base_productivity must be > 0")
	}
	return nil
}

// Rand is the randomness source for market shocks. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Engine is the pure quarterly model: no I/O, no clock, no global state.
type Engine struct {
	p Params
}

func NewEngine(p Params) *Engine {
	return &Engine{p: p}
}

func (e *Engine) Params() Params {
	return e.p
}

const cent int32 = 2

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func (e *Engine) Productivity(morale float64) float64 {
	return e.p.BaseProductivity + clamp(morale, 0, 100)/100*e.p.ProductivitySpan
}

func (e *Engine) Capacity(machines int64, productivity float64, shiftLevel int) float64 {
	if machines <= 0 || productivity <= 0 {
		return 0
	}
	return float64(machines) * e.p.UnitsPerMachine * productivity * e.p.ShiftMultipliers[shiftIndex(shiftLevel)]
}

// FulfillmentRatio is the share of requested production the plant can build.
func FulfillmentRatio(capacity float64, requested int64) float64 {
	if !(capacity > 0) {
		return 0
	}
	if requested <= 0 {
		return 1
	}
	return math.Min(1, capacity/float64(requested))
}

// Demand returns the unit demand for one product at the given price and total
// marketing spend. Non-finite intermediate values yield zero demand.
func (e *Engine) Demand(totalDemand float64, price, marketing decimal.Decimal) (int64, float64, float64) {
	if !price.IsPositive() || !(totalDemand > 0) {
		return 0, 0, 0
	}
	base := totalDemand / float64(len(Products))
	priceFactor := math.Pow(e.p.ReferencePrice/price.InexactFloat64(), e.p.PriceElasticity)
	spend := math.Max(0, marketing.InexactFloat64())
	marketingFactor := 1 + math.Log(spend+1)/e.p.MarketingDivisor
	raw := math.Floor(base * priceFactor * marketingFactor * e.p.DemandScale)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return 0, priceFactor, marketingFactor
	}
	if raw > math.MaxInt64/2 {
		raw = math.MaxInt64 / 2
	}
	return int64(raw), priceFactor, marketingFactor
}

// RunCompany applies one quarter of decisions to prior and returns the next
// ledger plus the quarter's result. prior is not modified.
func (e *Engine) RunCompany(prior CompanyLedger, m MarketState, d Decisions) (CompanyLedger, QuarterResult) {
	next := prior.Clone()
	var notes []string
	shift := shiftIndex(d.Operations.ShiftLevel)

	// Personnel.
	next.Employees = max(0, prior.Employees+d.Personnel.RecruitWorkers-d.Personnel.DismissWorkers)
	wageRatio := d.Personnel.WorkerWage.InexactFloat64() / e.p.ReferenceWage
	moraleDelta := 0.0
	switch {
	case wageRatio > e.p.HighWageRatio:
		moraleDelta += e.p.HighWageMorale
	case wageRatio < e.p.LowWageRatio:
		moraleDelta += e.p.LowWageMorale
	}
	if d.Personnel.DismissWorkers > 0 {
		moraleDelta += e.p.DismissalMorale
	}
	next.Morale = clamp(prior.Morale+moraleDelta, 0, 100)
	next.Productivity = e.Productivity(next.Morale)
	for r, staff := range d.RegionalStaff {
		next.RegionalStaff[r] = staff
	}

	// Operations.
	capacity := e.Capacity(prior.Machines, next.Productivity, d.Operations.ShiftLevel)
	requested := d.RequestedProduction()
	ratio := FulfillmentRatio(capacity, requested)
	if ratio < 1 && requested > 0 {
		notes = append(notes, fmt.Sprintf("Production capped at %d units due to capacity constraints.", int64(math.Floor(capacity))))
	}
	laborPerUnit := dec(e.p.LaborHoursPerUnit / next.Productivity).
		Mul(d.Personnel.WorkerWage).
		Mul(dec(e.p.ShiftPremiums[shift]))
	unitCost := m.MaterialCost.Add(laborPerUnit)

	produced := make(map[Product]int64, len(Products))
	var unitsProduced int64
	budget := int64(math.Floor(max(capacity, 0)))
	productionCost := decimal.Zero
	for _, p := range Products {
		req := d.Products[p].Production
		out := int64(0)
		if req > 0 {
			out = min(int64(math.Floor(float64(req)*ratio)), budget-unitsProduced)
		}
		produced[p] = out
		unitsProduced += out
		productionCost = productionCost.Add(unitCost.Mul(decimal.NewFromInt(out)).Round(cent))
	}
	maintenance := decimal.NewFromInt(prior.Machines * d.Operations.MaintenanceHours).Mul(dec(e.p.MaintenanceRate))

	bought := d.Operations.BuyMachines
	sold := min(d.Operations.SellMachines, prior.Machines+bought)
	if sold < d.Operations.SellMachines {
		notes = append(notes, fmt.Sprintf("Machine sale capped at %d units.", sold))
	}
	next.Machines = prior.Machines + bought - sold
	purchaseCost := decimal.NewFromInt(bought).Mul(dec(e.p.MachinePrice))
	saleProceeds := decimal.NewFromInt(sold).Mul(dec(e.p.MachineSalePrice))

	// Demand and sales.
	revenue := decimal.Zero
	marketingSpend := decimal.Zero
	var unitsSold int64
	salesByProduct := make([]ProductSales, 0, len(Products))
	regionUnits := make(map[Region]map[Product]int64, len(Regions))
	regionRevenue := make(map[Region]map[Product]decimal.Decimal, len(Regions))
	for _, r := range Regions {
		regionUnits[r] = make(map[Product]int64, len(Products))
		regionRevenue[r] = make(map[Product]decimal.Decimal, len(Products))
	}
	for _, p := range Products {
		pd := d.Products[p]
		opening := prior.Inventory[p]
		available := addSat(opening, produced[p])
		spend := pd.TotalMarketing()
		demand, priceFactor, marketingFactor := e.Demand(m.TotalDemand, pd.Price, spend)
		units := min(demand, available)
		next.Inventory[p] = available - units
		productRevenue := pd.Price.Mul(decimal.NewFromInt(units))

		revenue = revenue.Add(productRevenue)
		marketingSpend = marketingSpend.Add(spend)
		unitsSold += units
		salesByProduct = append(salesByProduct, ProductSales{
			Product:         p,
			OpeningStock:    opening,
			UnitsProduced:   produced[p],
			UnitsDemanded:   demand,
			UnitsSold:       units,
			ClosingStock:    next.Inventory[p],
			Revenue:         productRevenue,
			MarketingSpend:  spend,
			PriceFactor:     priceFactor,
			MarketingFactor: marketingFactor,
		})

		split := e.splitUnits(units, pd.Marketing)
		for _, r := range Regions {
			regionUnits[r][p] = split[r]
			regionRevenue[r][p] = pd.Price.Mul(decimal.NewFromInt(split[r]))
		}
	}
	salesByRegion := make([]RegionSales, 0, len(Regions))
	for _, r := range Regions {
		rs := RegionSales{Region: r, Units: regionUnits[r], Revenue: regionRevenue[r], TotalRevenue: decimal.Zero}
		for _, p := range Products {
			rs.TotalUnits += regionUnits[r][p]
			rs.TotalRevenue = rs.TotalRevenue.Add(regionRevenue[r][p])
		}
		salesByRegion = append(salesByRegion, rs)
	}

	// Financials.
	avgUnitCost := decimal.Zero
	if unitsProduced > 0 {
		avgUnitCost = productionCost.Div(decimal.NewFromInt(unitsProduced))
	}
	cogs := avgUnitCost.Mul(decimal.NewFromInt(unitsSold)).Round(cent)
	gross := revenue.Sub(cogs)

	var reps, marketers int64
	for _, staff := range next.RegionalStaff {
		reps += staff.SalesReps
		marketers += staff.MarketingStaff
	}
	exp := Expenses{
		Marketing: marketingSpend,
		Personnel: decimal.NewFromInt(next.Employees).Mul(dec(e.p.EmployeeSalary)).
			Add(d.Personnel.SalesSalary.Mul(dec(e.p.SalesSalaryFactor))),
		Maintenance:  maintenance,
		Depreciation: decimal.NewFromInt(next.Machines).Mul(dec(e.p.DepreciationRate)),
		Interest:     prior.Loans.Mul(m.InterestRate).Div(dec(e.p.InterestPeriodsYear)).Round(cent),
		Salesforce: decimal.NewFromInt(reps).Mul(dec(e.p.SalesRepCost)).
			Add(decimal.NewFromInt(marketers).Mul(dec(e.p.MarketingStaffCost))),
	}
	ebit := gross.Sub(exp.Operating())
	exp.Tax = decimal.Zero
	if ebit.IsPositive() {
		exp.Tax = ebit.Mul(dec(e.p.TaxRate)).Round(cent)
	}
	net := ebit.Sub(exp.Tax)

	borrow := d.Finance.Borrow
	repay := decimal.Min(d.Finance.Repay, prior.Loans.Add(borrow))
	next.Loans = prior.Loans.Add(borrow).Sub(repay)
	next.Cash = prior.Cash.Add(net).Add(saleProceeds).Sub(purchaseCost).Add(borrow).Sub(repay)
	next.NetWorth = prior.NetWorth.Add(net)

	// Valuation.
	eps := decimal.Zero
	if prior.ShareCount > 0 {
		eps = net.Div(decimal.NewFromInt(prior.ShareCount)).Round(6)
	}
	next.SharePrice = decimal.Max(dec(e.p.SharePriceFloor), prior.SharePrice.Add(eps.Mul(dec(e.p.EarningsMultiple))))

	marketShare := 0.0
	if m.TotalDemand > 0 {
		marketShare = float64(unitsSold) / m.TotalDemand * 100
	}

	result := QuarterResult{
		Quarter:   m.Quarter,
		CompanyID: prior.CompanyID,
		Financials: Financials{
			Revenue:     revenue,
			COGS:        cogs,
			GrossProfit: gross,
			Expenses:    exp,
			EBIT:        ebit,
			NetProfit:   net,
			Balance: BalanceSheet{
				Cash:           next.Cash,
				InventoryValue: avgUnitCost.Mul(decimal.NewFromInt(next.TotalInventory())).Round(cent),
				MachineValue:   decimal.NewFromInt(next.Machines).Mul(dec(e.p.MachineBookValue)),
				Loans:          next.Loans,
				NetWorth:       next.NetWorth,
			},
		},
		Metrics: Metrics{
			UnitsProduced:    unitsProduced,
			UnitsSold:        unitsSold,
			Capacity:         capacity,
			FulfillmentRatio: ratio,
			MarketShare:      marketShare,
			SharePrice:       next.SharePrice,
			EPS:              eps,
			Morale:           next.Morale,
			Productivity:     next.Productivity,
		},
		SalesByProduct: salesByProduct,
		SalesByRegion:  salesByRegion,
		Notes:          notes,
	}
	next.History = append(next.History, result)
	return next, result
}

// splitUnits distributes units across regions in proportion to
// RegionBaseWeight plus regional marketing spend. Largest-remainder rounding
// keeps the regional total equal to units.
func (e *Engine) splitUnits(units int64, marketing map[Region]decimal.Decimal) map[Region]int64 {
	out := make(map[Region]int64, len(Regions))
	if units <= 0 {
		for _, r := range Regions {
			out[r] = 0
		}
		return out
	}

	weights := make([]float64, len(Regions))
	total := 0.0
	for i, r := range Regions {
		w := e.p.RegionBaseWeight + math.Max(0, marketing[r].InexactFloat64())
		weights[i] = w
		total += w
	}
	if !(total > 0) {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	type share struct {
		idx  int
		frac float64
	}
	shares := make([]share, len(Regions))
	var assigned int64
	for i, r := range Regions {
		quota := float64(units) * weights[i] / total
		whole := int64(math.Floor(quota))
		out[r] = whole
		assigned += whole
		shares[i] = share{idx: i, frac: quota - float64(whole)}
	}
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].frac > shares[b].frac
	})
	for i := int64(0); i < units-assigned; i++ {
		out[Regions[shares[int(i)%len(shares)].idx]]++
	}
	return out
}

func shiftIndex(level int) int {
	if level < 1 {
		return 0
	}
	if level > MaxShiftLevel {
		return MaxShiftLevel - 1
	}
	return level - 1
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
