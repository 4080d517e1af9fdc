package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo       Repository
	engine     *Engine
	log        *slog.Logger
	mu         sync.Mutex
	rand       *mathrand.Rand
	now        func() time.Time
	publishers []Publisher
	strategies map[string]CompetitorStrategy
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeedSource fixes the generator that seeds newly created sessions.
func WithSeedSource(r *mathrand.Rand) Option {
	return func(s *Service) { s.rand = r }
}

func WithPublisher(p ...Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p...) }
}

func WithStrategy(name string, strategy CompetitorStrategy) Option {
	return func(s *Service) { s.strategies[name] = strategy }
}

func NewService(repo Repository, engine *Engine, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = NewEngine(DefaultParams())
	}
	s := &Service{
		repo:       repo,
		engine:     engine,
		log:        logger,
		rand:       mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		strategies: defaultStrategies(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) nextSeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Int63()
}

func (s *Service) Strategies() []string {
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) newSession(gameID string, now time.Time) *Session {
	return &Session{
		GameID:    gameID,
		Quarter:   StartingQuarter,
		Seed:      s.nextSeed(),
		Market:    DefaultMarket(),
		Companies: map[string]CompanyLedger{},
		Seats:     map[string]Seat{},
		Log:       []LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func registerCompany(sess *Session, companyID, name string, kind SeatKind, strategy string) {
	sess.Companies[companyID] = NewCompanyLedger(companyID, name)
	sess.Seats[companyID] = Seat{Kind: kind, Status: StatusPending, Strategy: strategy}
}

func appendLog(sess *Session, entry LogEntry) {
	sess.Log = append(sess.Log, entry)
	if n := len(sess.Log); n > MaxLogEntries {
		sess.Log = append([]LogEntry(nil), sess.Log[n-MaxLogEntries:]...)
	}
}

func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if err := ValidateID("gameId", in.GameID); err != nil {
		return SubmitResult{}, err
	}
	if err := ValidateID("companyId", in.CompanyID); err != nil {
		return SubmitResult{}, err
	}
	if err := validateName(in.CompanyName); err != nil {
		return SubmitResult{}, err
	}
	if in.Quarter < StartingQuarter {
		return SubmitResult{}, validationErr("quarter must be >= %d", StartingQuarter)
	}
	if err := ValidateDecisions(in.Decisions); err != nil {
		return SubmitResult{}, err
	}
	submissionID := in.SubmissionID
	if submissionID == "" {
		submissionID = uuid.NewString()
	}

	now := s.now().UTC()
	var (
		res    SubmitResult
		events []Event
	)
	err := s.repo.WithLock(ctx, in.GameID, func(sess *Session) (*Session, error) {
		events = nil
		if sess == nil {
			sess = s.newSession(in.GameID, now)
			events = append(events, Event{Type: EventSessionCreated, GameID: in.GameID, Quarter: sess.Quarter, At: now})
		}
		if in.Quarter != sess.Quarter {
			return nil, fmt.Errorf("%w: submitted quarter %d, session is at quarter %d", ErrQuarterMismatch, in.Quarter, sess.Quarter)
		}

		seat, known := sess.Seats[in.CompanyID]
		if !known {
			registerCompany(sess, in.CompanyID, in.CompanyName, SeatHuman, "")
			seat = sess.Seats[in.CompanyID]
			events = append(events, Event{Type: EventCompanyJoined, GameID: in.GameID, CompanyID: in.CompanyID, Quarter: sess.Quarter, At: now})
		}
		if seat.Kind == SeatAI {
			return nil, validationErr("company %s is an AI competitor", in.CompanyID)
		}
		if seat.Status == StatusLocked {
			return nil, ErrCompanyLocked
		}
		if in.CompanyName != "" {
			ledger := sess.Companies[in.CompanyID]
			ledger.Name = in.CompanyName
			sess.Companies[in.CompanyID] = ledger
		}

		staged := in.Decisions.Clone()
		at := now
		seat.Status = StatusSubmitted
		seat.Staged = &staged
		seat.SubmissionID = submissionID
		seat.SubmittedAt = &at
		sess.Seats[in.CompanyID] = seat
		sess.UpdatedAt = now
		appendLog(sess, LogEntry{At: now, Quarter: sess.Quarter, Kind: "submission", CompanyID: in.CompanyID, Message: "Decisions submitted."})

		var completed *Event
		res, completed = s.settle(sess, now)
		res.SubmissionID = submissionID
		if completed == nil {
			events = append(events, Event{
				Type:      EventDecisionsStaged,
				GameID:    in.GameID,
				CompanyID: in.CompanyID,
				Quarter:   sess.Quarter,
				Submitted: res.SubmittedCount,
				Total:     res.TotalCount,
				At:        now,
			})
		} else {
			events = append(events, *completed)
		}
		stamp(sess, events)
		return sess, nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	s.log.Info("decisions submitted",
		"game_id", in.GameID,
		"company_id", in.CompanyID,
		"quarter", in.Quarter,
		"status", res.Status,
		"submitted", res.SubmittedCount,
		"total", res.TotalCount,
	)
	s.publish(ctx, events)
	return res, nil
}

type barrierCounts struct {
	submitted int
	total     int
	pending   []string
}

// countSeats tallies the human seats expected to submit this quarter. Locked
// and AI seats are excluded.
func countSeats(sess *Session) barrierCounts {
	var c barrierCounts
	for id, seat := range sess.Seats {
		if seat.Kind != SeatHuman || seat.Status == StatusLocked {
			continue
		}
		c.total++
		switch seat.Status {
		case StatusSubmitted:
			c.submitted++
		default:
			c.pending = append(c.pending, id)
		}
	}
	sort.Strings(c.pending)
	return c
}

// settle checks the barrier and ticks the session in place when every
// participating human seat has submitted.
func (s *Service) settle(sess *Session, now time.Time) (SubmitResult, *Event) {
	c := countSeats(sess)
	res := SubmitResult{
		Status:            BarrierWaiting,
		GameID:            sess.GameID,
		Quarter:           sess.Quarter,
		SubmittedCount:    c.submitted,
		TotalCount:        c.total,
		PendingCompanyIDs: c.pending,
	}
	if len(c.pending) > 0 || c.submitted == 0 {
		return res, nil
	}

	closed := sess.Quarter
	results, marketEvents := s.tick(sess, now)
	res.Status = BarrierCompleted
	res.PendingCompanyIDs = nil
	res.NextQuarter = sess.Quarter
	res.Results = results
	res.MarketEvents = marketEvents

	s.log.Info("quarter completed",
		"game_id", sess.GameID,
		"quarter", closed,
		"companies", len(results),
		"market_events", len(marketEvents),
	)
	return res, &Event{
		Type:      EventQuarterCompleted,
		GameID:    sess.GameID,
		Quarter:   closed,
		Submitted: c.submitted,
		Total:     c.total,
		Results:   results,
		Messages:  marketEvents,
		At:        now,
	}
}

// tick advances the market, runs every participating company in id order,
// returns all seats to PENDING and moves the session to the next quarter.
func (s *Service) tick(sess *Session, now time.Time) (map[string]QuarterResult, []string) {
	closed := sess.Quarter
	market, marketEvents := s.engine.AdvanceMarket(sess.Market, QuarterRand(sess.Seed, closed))
	market.Quarter = closed
	for _, msg := range marketEvents {
		appendLog(sess, LogEntry{At: now, Quarter: closed, Kind: "market", Message: msg})
	}

	ids := make([]string, 0, len(sess.Seats))
	for id := range sess.Seats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make(map[string]QuarterResult, len(ids))
	for _, id := range ids {
		seat := sess.Seats[id]
		ledger, ok := sess.Companies[id]
		if !ok || seat.Status == StatusLocked {
			continue
		}
		decisions, participates := s.decisionsFor(sess.GameID, id, seat, ledger, market)
		if !participates {
			continue
		}
		next, result := s.engine.RunCompany(ledger, market, decisions)
		sess.Companies[id] = next
		results[id] = result
		for _, note := range result.Notes {
			appendLog(sess, LogEntry{At: now, Quarter: closed, Kind: "operations", CompanyID: id, Message: note})
		}
	}

	for id, seat := range sess.Seats {
		seat.Status = StatusPending
		seat.Staged = nil
		seat.SubmissionID = ""
		seat.SubmittedAt = nil
		sess.Seats[id] = seat
	}
	sess.Quarter = closed + 1
	market.Quarter = sess.Quarter
	sess.Market = market
	sess.UpdatedAt = now
	appendLog(sess, LogEntry{At: now, Quarter: closed, Kind: "quarter", Message: fmt.Sprintf("Quarter %d completed.", closed)})
	return results, marketEvents
}

func (s *Service) decisionsFor(gameID, companyID string, seat Seat, ledger CompanyLedger, market MarketState) (Decisions, bool) {
	if seat.Kind == SeatHuman {
		if seat.Status != StatusSubmitted || seat.Staged == nil {
			return Decisions{}, false
		}
		return seat.Staged.Clone(), true
	}

	strategy, ok := s.strategies[seat.Strategy]
	if !ok {
		s.log.Warn("competitor strategy missing, sitting out",
			"game_id", gameID, "company_id", companyID, "strategy", seat.Strategy)
		return Decisions{}, false
	}
	d, ok := strategy.Decide(ledger.Clone(), market)
	if !ok {
		return Decisions{}, false
	}
	if err := ValidateDecisions(&d); err != nil {
		s.log.Warn("competitor produced invalid decisions, sitting out",
			"game_id", gameID, "company_id", companyID, "strategy", seat.Strategy, "err", err)
		return Decisions{}, false
	}
	return d, true
}

// Join registers a company as PENDING without submitting. Joining twice is a
// no-op.
func (s *Service) Join(ctx context.Context, gameID, companyID, name string) (StatusView, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return StatusView{}, err
	}
	if err := ValidateID("companyId", companyID); err != nil {
		return StatusView{}, err
	}
	if err := validateName(name); err != nil {
		return StatusView{}, err
	}

	now := s.now().UTC()
	var (
		view   StatusView
		events []Event
	)
	err := s.repo.WithLock(ctx, gameID, func(sess *Session) (*Session, error) {
		events = nil
		if sess == nil {
			sess = s.newSession(gameID, now)
			events = append(events, Event{Type: EventSessionCreated, GameID: gameID, Quarter: sess.Quarter, At: now})
		}
		if _, known := sess.Seats[companyID]; known {
			view = buildStatus(sess, companyID)
			if len(events) == 0 {
				return nil, nil
			}
			stamp(sess, events)
			return sess, nil
		}
		registerCompany(sess, companyID, name, SeatHuman, "")
		sess.UpdatedAt = now
		appendLog(sess, LogEntry{At: now, Quarter: sess.Quarter, Kind: "join", CompanyID: companyID, Message: "Company joined."})
		events = append(events, Event{Type: EventCompanyJoined, GameID: gameID, CompanyID: companyID, Quarter: sess.Quarter, At: now})
		stamp(sess, events)
		view = buildStatus(sess, companyID)
		return sess, nil
	})
	if err != nil {
		return StatusView{}, err
	}
	s.publish(ctx, events)
	return view, nil
}

// Status is a read-only snapshot. An unknown game reports exists=false at the
// starting quarter and is not created.
func (s *Service) Status(ctx context.Context, gameID, companyID string) (StatusView, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return StatusView{}, err
	}
	if companyID != "" {
		if err := ValidateID("companyId", companyID); err != nil {
			return StatusView{}, err
		}
	}
	sess, err := s.repo.Get(ctx, gameID)
	if errors.Is(err, ErrSessionNotFound) {
		return StatusView{GameID: gameID, Quarter: StartingQuarter, Companies: []CompanyStatusView{}}, nil
	}
	if err != nil {
		return StatusView{}, err
	}
	return buildStatus(sess, companyID), nil
}

func buildStatus(sess *Session, companyID string) StatusView {
	market := sess.Market
	view := StatusView{
		GameID:    sess.GameID,
		Exists:    true,
		Quarter:   sess.Quarter,
		Market:    &market,
		Companies: make([]CompanyStatusView, 0, len(sess.Seats)),
	}
	ids := make([]string, 0, len(sess.Seats))
	for id := range sess.Seats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		view.Companies = append(view.Companies, companyView(sess, id))
	}

	c := countSeats(sess)
	view.SubmittedCount = c.submitted
	view.PendingCount = len(c.pending)
	view.TotalCount = c.total
	view.AllSubmitted = c.total > 0 && len(c.pending) == 0

	if companyID != "" {
		cv := companyView(sess, companyID)
		view.Company = &cv
	}
	return view
}

func companyView(sess *Session, id string) CompanyStatusView {
	seat, ok := sess.Seats[id]
	if !ok {
		return CompanyStatusView{CompanyID: id, Status: StatusPending}
	}
	return CompanyStatusView{
		CompanyID:   id,
		Name:        sess.Companies[id].Name,
		Kind:        seat.Kind,
		Status:      seat.Status,
		SubmittedAt: seat.SubmittedAt,
		Known:       true,
	}
}

func (s *Service) Company(ctx context.Context, gameID, companyID string) (CompanyLedger, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return CompanyLedger{}, err
	}
	if err := ValidateID("companyId", companyID); err != nil {
		return CompanyLedger{}, err
	}
	sess, err := s.repo.Get(ctx, gameID)
	if err != nil {
		return CompanyLedger{}, err
	}
	ledger, ok := sess.Companies[companyID]
	if !ok {
		return CompanyLedger{}, ErrCompanyNotFound
	}
	return ledger, nil
}

// Log returns the session event log, oldest first.
func (s *Service) Log(ctx context.Context, gameID string) ([]LogEntry, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return nil, err
	}
	sess, err := s.repo.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return sess.Log, nil
}

// Reset restores every known company and the market to defaults and returns
// the session to the starting quarter. The session seed is kept.
func (s *Service) Reset(ctx context.Context, gameID string) (ResetResult, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return ResetResult{}, err
	}
	now := s.now().UTC()
	var (
		res    ResetResult
		events []Event
	)
	err := s.repo.WithLock(ctx, gameID, func(sess *Session) (*Session, error) {
		if sess == nil {
			return nil, ErrSessionNotFound
		}
		for id, ledger := range sess.Companies {
			sess.Companies[id] = NewCompanyLedger(id, ledger.Name)
		}
		for id, seat := range sess.Seats {
			sess.Seats[id] = Seat{Kind: seat.Kind, Status: StatusPending, Strategy: seat.Strategy}
		}
		sess.Quarter = StartingQuarter
		sess.Market = DefaultMarket()
		sess.Log = []LogEntry{{At: now, Quarter: StartingQuarter, Kind: "reset", Message: "Session reset to defaults."}}
		sess.UpdatedAt = now
		res = ResetResult{
			Success:        true,
			GameID:         gameID,
			Quarter:        StartingQuarter,
			CompaniesReset: len(sess.Companies),
			ResultsCleared: true,
		}
		events = []Event{{Type: EventSessionReset, GameID: gameID, Quarter: StartingQuarter, At: now}}
		stamp(sess, events)
		return sess, nil
	})
	if err != nil {
		return ResetResult{}, err
	}
	s.log.Info("session reset", "game_id", gameID, "companies", res.CompaniesReset)
	s.publish(ctx, events)
	return res, nil
}

func (s *Service) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		c := countSeats(&sessions[i])
		out = append(out, SessionSummary{
			GameID:       sessions[i].GameID,
			Quarter:      sessions[i].Quarter,
			CompanyCount: len(sessions[i].Companies),
			AllSubmitted: c.total > 0 && len(c.pending) == 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out, nil
}

// Lock freezes a company for the current quarter. Its staged decisions are
// dropped. If the lock leaves every other participant submitted, the quarter
// ticks and the outcome is returned.
func (s *Service) Lock(ctx context.Context, gameID, companyID string) (SubmitResult, error) {
	return s.setLock(ctx, gameID, companyID, true)
}

func (s *Service) Unlock(ctx context.Context, gameID, companyID string) (SubmitResult, error) {
	return s.setLock(ctx, gameID, companyID, false)
}

func (s *Service) setLock(ctx context.Context, gameID, companyID string, locked bool) (SubmitResult, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return SubmitResult{}, err
	}
	if err := ValidateID("companyId", companyID); err != nil {
		return SubmitResult{}, err
	}
	now := s.now().UTC()
	var (
		res    SubmitResult
		events []Event
	)
	err := s.repo.WithLock(ctx, gameID, func(sess *Session) (*Session, error) {
		events = nil
		if sess == nil {
			return nil, ErrSessionNotFound
		}
		seat, ok := sess.Seats[companyID]
		if !ok {
			return nil, ErrCompanyNotFound
		}

		evType, verb := EventCompanyUnlocked, "unlocked"
		if locked {
			evType, verb = EventCompanyLocked, "locked"
			seat.Status = StatusLocked
			seat.Staged = nil
			seat.SubmissionID = ""
			seat.SubmittedAt = nil
		} else if seat.Status == StatusLocked {
			seat.Status = StatusPending
		}
		sess.Seats[companyID] = seat
		sess.UpdatedAt = now
		appendLog(sess, LogEntry{At: now, Quarter: sess.Quarter, Kind: string(evType), CompanyID: companyID, Message: "Company " + verb + "."})
		events = append(events, Event{Type: evType, GameID: gameID, CompanyID: companyID, Quarter: sess.Quarter, At: now})

		if !locked {
			c := countSeats(sess)
			res = SubmitResult{
				Status:            BarrierWaiting,
				GameID:            gameID,
				Quarter:           sess.Quarter,
				SubmittedCount:    c.submitted,
				TotalCount:        c.total,
				PendingCompanyIDs: c.pending,
			}
			stamp(sess, events)
			return sess, nil
		}
		var completed *Event
		res, completed = s.settle(sess, now)
		if completed != nil {
			events = append(events, *completed)
		}
		stamp(sess, events)
		return sess, nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	s.log.Info("company lock changed", "game_id", gameID, "company_id", companyID, "locked", locked, "status", res.Status)
	s.publish(ctx, events)
	return res, nil
}

// AddCompetitor seats an AI company driven by the named strategy. AI seats
// never block the barrier. Re-adding an existing AI seat swaps its strategy.
func (s *Service) AddCompetitor(ctx context.Context, gameID, companyID, name, strategy string) (StatusView, error) {
	if err := ValidateID("gameId", gameID); err != nil {
		return StatusView{}, err
	}
	if err := ValidateID("companyId", companyID); err != nil {
		return StatusView{}, err
	}
	if err := validateName(name); err != nil {
		return StatusView{}, err
	}
	if strategy == "" {
		strategy = StrategyRuleBased
	}
	if _, ok := s.strategies[strategy]; !ok {
		return StatusView{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	now := s.now().UTC()
	var (
		view   StatusView
		events []Event
	)
	err := s.repo.WithLock(ctx, gameID, func(sess *Session) (*Session, error) {
		events = nil
		if sess == nil {
			sess = s.newSession(gameID, now)
			events = append(events, Event{Type: EventSessionCreated, GameID: gameID, Quarter: sess.Quarter, At: now})
		}
		if seat, ok := sess.Seats[companyID]; ok {
			if seat.Kind != SeatAI {
				return nil, validationErr("company %s is already seated by a player", companyID)
			}
			seat.Strategy = strategy
			sess.Seats[companyID] = seat
		} else {
			registerCompany(sess, companyID, name, SeatAI, strategy)
		}
		sess.UpdatedAt = now
		appendLog(sess, LogEntry{At: now, Quarter: sess.Quarter, Kind: "competitor", CompanyID: companyID, Message: fmt.Sprintf("AI competitor seated with %s strategy.", strategy)})
		events = append(events, Event{Type: EventCompetitorAdded, GameID: gameID, CompanyID: companyID, Quarter: sess.Quarter, At: now})
		stamp(sess, events)
		view = buildStatus(sess, companyID)
		return sess, nil
	})
	if err != nil {
		return StatusView{}, err
	}
	s.log.Info("competitor added", "game_id", gameID, "company_id", companyID, "strategy", strategy)
	s.publish(ctx, events)
	return view, nil
}

// stamp numbers events in commit order. It runs under the session lock, so
// Seq strictly increases per game, across resets and restarts.
func stamp(sess *Session, events []Event) {
	for i := range events {
		sess.EventSeq++
		events[i].Seq = sess.EventSeq
	}
}

func (s *Service) publish(ctx context.Context, events []Event) {
	if len(events) == 0 || len(s.publishers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		for _, p := range s.publishers {
			p.Publish(ctx, ev)
		}
	}
}
