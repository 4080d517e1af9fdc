package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product string

const (
	P1 Product = "P1"
	P2 Product = "P2"
	P3 Product = "P3"
)

// Products is the fixed product line-up, in processing order.
var Products = []Product{P1, P2, P3}

type Region string

const (
	South  Region = "south"
	West   Region = "west"
	North  Region = "north"
	Export Region = "export"
)

// Regions is the fixed sales territory list, in reporting order.
var Regions = []Region{South, West, North, Export}

type CompanyStatus string

const (
	StatusPending   CompanyStatus = "PENDING"
	StatusSubmitted CompanyStatus = "SUBMITTED"
	StatusLocked    CompanyStatus = "LOCKED"
)

type SeatKind string

const (
	SeatHuman SeatKind = "HUMAN"
	SeatAI    SeatKind = "AI"
)

type MarketState struct {
	GDPGrowth    float64         `json:"gdp_growth"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	MaterialCost decimal.Decimal `json:"material_cost"`
	TotalDemand  float64         `json:"total_demand"`
	Quarter      int             `json:"quarter"`
}

type RegionalStaff struct {
	SalesReps      int64 `json:"sales_reps"`
	MarketingStaff int64 `json:"marketing_staff"`
}

// CompanyLedger is the full mutable state of one company. Only the Engine
// produces new ledgers; History is append-only.
type CompanyLedger struct {
	CompanyID     string                   `json:"company_id"`
	Name          string                   `json:"name"`
	SharePrice    decimal.Decimal          `json:"share_price"`
	ShareCount    int64                    `json:"share_count"`
	Employees     int64                    `json:"employees"`
	Morale        float64                  `json:"morale"`
	Productivity  float64                  `json:"productivity"`
	Machines      int64                    `json:"machines"`
	Inventory     map[Product]int64        `json:"inventory"`
	Cash          decimal.Decimal          `json:"cash"`
	Loans         decimal.Decimal          `json:"loans"`
	NetWorth      decimal.Decimal          `json:"net_worth"`
	RegionalStaff map[Region]RegionalStaff `json:"regional_staff"`
	History       []QuarterResult          `json:"history"`
}

func (c CompanyLedger) TotalInventory() int64 {
	var total int64
	for _, units := range c.Inventory {
		total += units
	}
	return total
}

// Clone copies the ledger's maps and history slice. QuarterResults are never
// mutated after creation, so they are shared.
func (c CompanyLedger) Clone() CompanyLedger {
	out := c
	out.Inventory = make(map[Product]int64, len(c.Inventory))
	for k, v := range c.Inventory {
		out.Inventory[k] = v
	}
	out.RegionalStaff = make(map[Region]RegionalStaff, len(c.RegionalStaff))
	for k, v := range c.RegionalStaff {
		out.RegionalStaff[k] = v
	}
	out.History = append([]QuarterResult(nil), c.History...)
	return out
}

type ProductDecision struct {
	Price      decimal.Decimal            `json:"price"`
	Production int64                      `json:"production"`
	Marketing  map[Region]decimal.Decimal `json:"marketing"`
}

func (p ProductDecision) TotalMarketing() decimal.Decimal {
	total := decimal.Zero
	for _, spend := range p.Marketing {
		total = total.Add(spend)
	}
	return total
}

type Operations struct {
	ShiftLevel       int   `json:"shift_level"`
	MaintenanceHours int64 `json:"maintenance_hours"`
	BuyMachines      int64 `json:"buy_machines"`
	SellMachines     int64 `json:"sell_machines"`
}

type Personnel struct {
	WorkerWage     decimal.Decimal `json:"worker_wage"`
	RecruitWorkers int64           `json:"recruit_workers"`
	DismissWorkers int64           `json:"dismiss_workers"`
	SalesSalary    decimal.Decimal `json:"sales_salary"`
}

type Finance struct {
	Borrow decimal.Decimal `json:"borrow"`
	Repay  decimal.Decimal `json:"repay"`
}

// Decisions is one company's input for the quarter in progress.
type Decisions struct {
	Products      map[Product]ProductDecision `json:"products"`
	Operations    Operations                  `json:"operations"`
	Personnel     Personnel                   `json:"personnel"`
	RegionalStaff map[Region]RegionalStaff    `json:"regional_staff,omitempty"`
	Finance       Finance                     `json:"finance"`
}

func (d Decisions) RequestedProduction() int64 {
	var total int64
	for _, p := range d.Products {
		if p.Production > 0 {
			total = addSat(total, p.Production)
		}
	}
	return total
}

func (d Decisions) Clone() Decisions {
	out := d
	out.Products = make(map[Product]ProductDecision, len(d.Products))
	for k, v := range d.Products {
		marketing := make(map[Region]decimal.Decimal, len(v.Marketing))
		for r, spend := range v.Marketing {
			marketing[r] = spend
		}
		v.Marketing = marketing
		out.Products[k] = v
	}
	if d.RegionalStaff != nil {
		out.RegionalStaff = make(map[Region]RegionalStaff, len(d.RegionalStaff))
		for k, v := range d.RegionalStaff {
			out.RegionalStaff[k] = v
		}
	}
	return out
}

type Expenses struct {
	Marketing    decimal.Decimal `json:"marketing"`
	Personnel    decimal.Decimal `json:"personnel"`
	Maintenance  decimal.Decimal `json:"maintenance"`
	Depreciation decimal.Decimal `json:"depreciation"`
	Interest     decimal.Decimal `json:"interest"`
	Salesforce   decimal.Decimal `json:"salesforce"`
	Tax          decimal.Decimal `json:"tax"`
}

// Operating sums every expense line except tax.
func (e Expenses) Operating() decimal.Decimal {
	return e.Marketing.
		Add(e.Personnel).
		Add(e.Maintenance).
		Add(e.Depreciation).
		Add(e.Interest).
		Add(e.Salesforce)
}

type BalanceSheet struct {
	Cash           decimal.Decimal `json:"cash"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	MachineValue   decimal.Decimal `json:"machine_value"`
	Loans          decimal.Decimal `json:"loans"`
	NetWorth       decimal.Decimal `json:"net_worth"`
}

type Financials struct {
	Revenue     decimal.Decimal `json:"revenue"`
	COGS        decimal.Decimal `json:"cogs"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	Expenses    Expenses        `json:"expenses"`
	EBIT        decimal.Decimal `json:"ebit"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	Balance     BalanceSheet    `json:"balance"`
}

type Metrics struct {
	UnitsProduced    int64           `json:"units_produced"`
	UnitsSold        int64           `json:"units_sold"`
	Capacity         float64         `json:"capacity"`
	FulfillmentRatio float64         `json:"fulfillment_ratio"`
	MarketShare      float64         `json:"market_share"`
	SharePrice       decimal.Decimal `json:"share_price"`
	EPS              decimal.Decimal `json:"eps"`
	Morale           float64         `json:"morale"`
	Productivity     float64         `json:"productivity"`
}

type ProductSales struct {
	Product         Product         `json:"product"`
	OpeningStock    int64           `json:"opening_stock"`
	UnitsProduced   int64           `json:"units_produced"`
	UnitsDemanded   int64           `json:"units_demanded"`
	UnitsSold       int64           `json:"units_sold"`
	ClosingStock    int64           `json:"closing_stock"`
	Revenue         decimal.Decimal `json:"revenue"`
	MarketingSpend  decimal.Decimal `json:"marketing_spend"`
	PriceFactor     float64         `json:"price_factor"`
	MarketingFactor float64         `json:"marketing_factor"`
}

type RegionSales struct {
	Region       Region                      `json:"region"`
	Units        map[Product]int64           `json:"units"`
	Revenue      map[Product]decimal.Decimal `json:"revenue"`
	TotalUnits   int64                       `json:"total_units"`
	TotalRevenue decimal.Decimal             `json:"total_revenue"`
}

// QuarterResult is an immutable snapshot of one company's quarter.
type QuarterResult struct {
	Quarter        int            `json:"quarter"`
	CompanyID      string         `json:"company_id"`
	Financials     Financials     `json:"financials"`
	Metrics        Metrics        `json:"metrics"`
	SalesByProduct []ProductSales `json:"sales_by_product"`
	SalesByRegion  []RegionSales  `json:"sales_by_region"`
	Notes          []string       `json:"notes,omitempty"`
}

type Seat struct {
	Kind         SeatKind      `json:"kind"`
	Status       CompanyStatus `json:"status"`
	Strategy     string        `json:"strategy,omitempty"`
	Staged       *Decisions    `json:"staged,omitempty"`
	SubmissionID string        `json:"submission_id,omitempty"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
}

type LogEntry struct {
	At        time.Time `json:"at"`
	Quarter   int       `json:"quarter"`
	Kind      string    `json:"kind"`
	CompanyID string    `json:"company_id,omitempty"`
	Message   string    `json:"message"`
}

// Session is the persisted record for one game.
type Session struct {
	GameID    string                   `json:"game_id"`
	Quarter   int                      `json:"quarter"`
	Seed      int64                    `json:"seed"`
	Market    MarketState              `json:"market"`
	Companies map[string]CompanyLedger `json:"companies"`
	Seats     map[string]Seat          `json:"seats"`
	Log       []LogEntry               `json:"log"`
	EventSeq  int64                    `json:"event_seq"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Companies = make(map[string]CompanyLedger, len(s.Companies))
	for id, c := range s.Companies {
		out.Companies[id] = c.Clone()
	}
	out.Seats = make(map[string]Seat, len(s.Seats))
	for id, seat := range s.Seats {
		if seat.Staged != nil {
			staged := seat.Staged.Clone()
			seat.Staged = &staged
		}
		if seat.SubmittedAt != nil {
			at := *seat.SubmittedAt
			seat.SubmittedAt = &at
		}
		out.Seats[id] = seat
	}
	out.Log = append([]LogEntry(nil), s.Log...)
	return &out
}

type SubmitInput struct {
	GameID       string
	CompanyID    string
	CompanyName  string
	Quarter      int
	Decisions    *Decisions
	SubmissionID string
}

type BarrierState string

const (
	BarrierWaiting   BarrierState = "WAITING"
	BarrierCompleted BarrierState = "COMPLETED"
)

type SubmitResult struct {
	Status            BarrierState             `json:"status"`
	GameID            string                   `json:"game_id"`
	Quarter           int                      `json:"quarter"`
	SubmissionID      string                   `json:"submission_id,omitempty"`
	SubmittedCount    int                      `json:"submitted_count"`
	TotalCount        int                      `json:"total_count"`
	PendingCompanyIDs []string                 `json:"pending_company_ids,omitempty"`
	NextQuarter       int                      `json:"next_quarter,omitempty"`
	Results           map[string]QuarterResult `json:"results,omitempty"`
	MarketEvents      []string                 `json:"market_events,omitempty"`
}

type CompanyStatusView struct {
	CompanyID   string        `json:"company_id"`
	Name        string        `json:"name"`
	Kind        SeatKind      `json:"kind"`
	Status      CompanyStatus `json:"status"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	Known       bool          `json:"known"`
}

type StatusView struct {
	GameID         string              `json:"game_id"`
	Exists         bool                `json:"exists"`
	Quarter        int                 `json:"quarter"`
	Market         *MarketState        `json:"market,omitempty"`
	Companies      []CompanyStatusView `json:"companies"`
	SubmittedCount int                 `json:"submitted_count"`
	PendingCount   int                 `json:"pending_count"`
	TotalCount     int                 `json:"total_count"`
	AllSubmitted   bool                `json:"all_submitted"`
	Company        *CompanyStatusView  `json:"company,omitempty"`
}

type ResetResult struct {
	Success        bool   `json:"success"`
	GameID         string `json:"game_id"`
	Quarter        int    `json:"quarter"`
	CompaniesReset int    `json:"companies_reset"`
	ResultsCleared bool   `json:"results_cleared"`
}

type SessionSummary struct {
	GameID       string `json:"game_id"`
	Quarter      int    `json:"quarter"`
	CompanyCount int    `json:"company_count"`
	AllSubmitted bool   `json:"all_submitted"`
}
