// Package engine is the order book reserve: it owns one order list per
// direction and the maker ledger, and is the only code that mutates them.
//
// A Reserve is not safe for concurrent use. Callers serialize transitions;
// a call made while another is in progress on the same goroutine (from a
// vault callback) fails with ErrReentrantCall.
package engine

import (
	"context"
	"fmt"

	. "obreserve/internal/common"
	"obreserve/internal/ledger"
	"obreserve/internal/orderlist"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// state is everything a transition may change.
type state struct {
	lists  [len(Directions)]*orderlist.List
	ledger *ledger.Ledger
}

// begin starts a transaction. Writes go straight to the live state and
// only the orders and accounts they touch are journalled.
func (s *state) begin() {
	s.ledger.Begin()
	for _, l := range s.lists {
		l.Begin()
	}
}

// end commits the transaction, or rolls it back when *err is set.
func (s *state) end(err *error) {
	if *err != nil {
		s.rollback()
		return
	}
	s.commit()
}

func (s *state) commit() {
	s.ledger.Commit()
	for _, l := range s.lists {
		l.Commit()
	}
}

func (s *state) rollback() {
	s.ledger.Rollback()
	for _, l := range s.lists {
		l.Rollback()
	}
}

type transfer struct {
	asset  Address
	party  Address
	amount uint256.Int
	pull   bool
}

type Reserve struct {
	cfg      Config
	state    *state
	vault    Vault
	feeRate  FeeRateSource
	reporter Reporter
	logger   zerolog.Logger

	busy    bool
	pending []Event
}

type Option func(*Reserve)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reserve) { r.logger = logger }
}

func WithReporter(reporter Reporter) Option {
	return func(r *Reserve) { r.reporter = reporter }
}

func WithFeeRate(source FeeRateSource) Option {
	return func(r *Reserve) { r.feeRate = source }
}

// New creates an empty reserve. Without WithFeeRate burn fees are priced
// at one unit of collateral per ETH.
func New(cfg Config, vault Vault, opts ...Option) (*Reserve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &state{ledger: ledger.New(cfg.StakeRateBps)}
	for _, d := range Directions {
		s.lists[d] = orderlist.New(cfg.OrdersPerMaker)
	}
	return newReserve(cfg, s, vault, opts...), nil
}

func newReserve(cfg Config, s *state, vault Vault, opts ...Option) *Reserve {
	r := &Reserve{
		cfg:      cfg,
		state:    s,
		vault:    vault,
		feeRate:  StaticFeeRate{Rate: *Precision},
		reporter: Reporters(nil),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reserve) Config() Config {
	return r.cfg
}

// SetReporter replaces the event sink.
func (r *Reserve) SetReporter(reporter Reporter) {
	r.reporter = reporter
}

// enter marks the start of a mutating call.
func (r *Reserve) enter() error {
	if r.busy {
		return ErrReentrantCall
	}
	r.busy = true
	r.pending = r.pending[:0]
	return nil
}

// exit ends a mutating call, publishing its events only if it succeeded.
func (r *Reserve) exit(err *error) {
	r.busy = false
	if *err != nil {
		r.pending = r.pending[:0]
		return
	}
	for _, ev := range r.pending {
		r.reporter.Report(ev)
	}
	r.pending = r.pending[:0]
}

func (r *Reserve) emit(ev Event) {
	r.pending = append(r.pending, ev)
}

// settle runs the queued external transfers, pulls first and then pushes in
// the order given. When one fails the pulls already done are refunded and
// the error returned. A push cannot be taken back without the recipient's
// allowance, so callers queue the push most likely to fail first.
func (r *Reserve) settle(ctx context.Context, transfers []transfer) error {
	done := make([]transfer, 0, len(transfers))
	run := func(t transfer) error {
		if t.amount.IsZero() {
			return nil
		}
		if t.pull {
			return r.vault.TransferFrom(ctx, t.asset, t.party, &t.amount)
		}
		return r.vault.Transfer(ctx, t.asset, t.party, &t.amount)
	}

	for _, pull := range []bool{true, false} {
		for _, t := range transfers {
			if t.pull != pull {
				continue
			}
			if err := run(t); err != nil {
				r.unwind(ctx, done)
				return fmt.Errorf("transfer of %s to %s failed: %w", t.amount.Dec(), t.party.Hex(), err)
			}
			done = append(done, t)
		}
	}
	return nil
}

func (r *Reserve) unwind(ctx context.Context, done []transfer) {
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		if !t.pull {
			r.logger.Error().
				Str("asset", t.asset.Hex()).
				Str("party", t.party.Hex()).
				Str("amount", t.amount.Dec()).
				Msg("sent transfer cannot be reversed")
			continue
		}
		if err := r.vault.Transfer(ctx, t.asset, t.party, &t.amount); err != nil {
			r.logger.Error().Err(err).
				Str("asset", t.asset.Hex()).
				Str("party", t.party.Hex()).
				Str("amount", t.amount.Dec()).
				Msg("unable to refund transfer")
		}
	}
}

func (r *Reserve) list(d Direction) (*orderlist.List, error) {
	if !d.Valid() {
		return nil, ErrInvalidDirection
	}
	return r.state.lists[d], nil
}

// assets returns what makers offer (src) and ask for (dst) in direction d.
func (r *Reserve) assets(d Direction) (src, dst Address) {
	if d == EthToToken {
		return r.cfg.EthAsset, r.cfg.TokenAsset
	}
	return r.cfg.TokenAsset, r.cfg.EthAsset
}

// commitment is the ETH side of an order, which order sizes and stakes are
// measured in.
func commitment(d Direction, src, dst *uint256.Int) *uint256.Int {
	if d == EthToToken {
		return src
	}
	return dst
}
