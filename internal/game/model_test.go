package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateID(t *testing.T) {
	valid := []string{"game-1", "ACME", "team_7", "q3.final", "room:blue"}
	for _, id := range valid {
		if err := ValidateID("gameId", id); err != nil {
			t.Fatalf("expected id %q to be valid: %v", id, err)
		}
	}

	invalid := []string{"", "   ", "-leading", "has space", "slash/inside"}
	for _, id := range invalid {
		err := ValidateID("gameId", id)
		if err == nil {
			t.Fatalf("expected id %q to fail", id)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("id %q: error %v is not ErrValidation", id, err)
		}
	}
}

func TestValidateDecisions(t *testing.T) {
	if err := ValidateDecisions(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil decisions: got %v", err)
	}
	base := DefaultDecisions()
	if err := ValidateDecisions(&base); err != nil {
		t.Fatalf("default decisions should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Decisions)
	}{
		{name: "missing product", mutate: func(d *Decisions) { delete(d.Products, P3) }},
		{name: "unknown product", mutate: func(d *Decisions) { d.Products["P9"] = d.Products[P1] }},
		{name: "zero price", mutate: func(d *Decisions) {
			pd := d.Products[P1]
			pd.Price = decimal.Zero
			d.Products[P1] = pd
		}},
		{name: "negative production", mutate: func(d *Decisions) {
			pd := d.Products[P2]
			pd.Production = -1
			d.Products[P2] = pd
		}},
		{name: "negative marketing", mutate: func(d *Decisions) {
			d.Products[P1].Marketing[West] = decimal.NewFromInt(-5)
		}},
		{name: "unknown region", mutate: func(d *Decisions) {
			d.Products[P1].Marketing["moon"] = decimal.NewFromInt(5)
		}},
		{name: "shift too low", mutate: func(d *Decisions) { d.Operations.ShiftLevel = 0 }},
		{name: "shift too high", mutate: func(d *Decisions) { d.Operations.ShiftLevel = 4 }},
		{name: "negative maintenance", mutate: func(d *Decisions) { d.Operations.MaintenanceHours = -1 }},
		{name: "negative wage", mutate: func(d *Decisions) { d.Personnel.WorkerWage = decimal.NewFromInt(-1) }},
		{name: "negative dismissals", mutate: func(d *Decisions) { d.Personnel.DismissWorkers = -2 }},
		{name: "negative staff", mutate: func(d *Decisions) {
			d.RegionalStaff = map[Region]RegionalStaff{North: {SalesReps: -1}}
		}},
		{name: "production over ceiling", mutate: func(d *Decisions) {
			pd := d.Products[P1]
			pd.Production = MaxProductionPerLine + 1
			d.Products[P1] = pd
		}},
		{name: "maintenance over ceiling", mutate: func(d *Decisions) { d.Operations.MaintenanceHours = MaxMaintenanceHours + 1 }},
		{name: "machine purchase over ceiling", mutate: func(d *Decisions) { d.Operations.BuyMachines = MaxMachineTrade + 1 }},
		{name: "recruits over ceiling", mutate: func(d *Decisions) { d.Personnel.RecruitWorkers = 4_000_000_000_000_000_000 }},
		{name: "staff over ceiling", mutate: func(d *Decisions) {
			d.RegionalStaff = map[Region]RegionalStaff{North: {MarketingStaff: MaxRegionalStaff + 1}}
		}},
		{name: "negative borrow", mutate: func(d *Decisions) { d.Finance.Borrow = decimal.NewFromInt(-10) }},
	}
	for _, tc := range tests {
		d := DefaultDecisions()
		tc.mutate(&d)
		if err := ValidateDecisions(&d); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestNewCompanyLedgerDefaults(t *testing.T) {
	c := NewCompanyLedger("acme", "")
	if c.Name != "acme" {
		t.Fatalf("empty name should fall back to id, got %q", c.Name)
	}
	if c.Employees != 50 || c.Machines != 10 || c.Morale != 75 || c.ShareCount != DefaultShareCount {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Inventory[P1] != 500 || c.Inventory[P2] != 200 || c.Inventory[P3] != 0 {
		t.Fatalf("unexpected inventory: %v", c.Inventory)
	}
	if !c.Cash.Equal(decimal.NewFromInt(500_000)) || !c.NetWorth.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("unexpected money defaults: cash=%s net=%s", c.Cash, c.NetWorth)
	}
	for _, r := range Regions {
		if c.RegionalStaff[r] != (RegionalStaff{SalesReps: 4, MarketingStaff: 2}) {
			t.Fatalf("region %s staff %+v", r, c.RegionalStaff[r])
		}
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	d := DefaultDecisions()
	sess := &Session{
		GameID:    "g1",
		Quarter:   1,
		Companies: map[string]CompanyLedger{"a": NewCompanyLedger("a", "A")},
		Seats:     map[string]Seat{"a": {Kind: SeatHuman, Status: StatusSubmitted, Staged: &d}},
	}
	cp := sess.Clone()

	cp.Companies["a"].Inventory[P1] = 1
	cp.Seats["a"].Staged.Products[P1].Marketing[South] = decimal.NewFromInt(1)
	cp.Seats["b"] = Seat{}

	if sess.Companies["a"].Inventory[P1] != 500 {
		t.Fatalf("inventory shared between clones")
	}
	if !sess.Seats["a"].Staged.Products[P1].Marketing[South].Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("staged decisions shared between clones")
	}
	if _, ok := sess.Seats["b"]; ok {
		t.Fatalf("seat map shared between clones")
	}
}
