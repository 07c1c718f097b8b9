package engine

import (
	"context"
	"fmt"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// Quote is the result of walking the book for a taker paying AmountIn.
type Quote struct {
	Rate      uint256.Int // AmountOut * Precision / AmountIn
	AmountIn  uint256.Int // input the book can absorb
	AmountOut uint256.Int
	Orders    int  // orders touched
	Complete  bool // whether the whole requested input is absorbed
}

// Fill is the outcome of a trade. Partial is set when the book ran out or
// the per-trade order limit was reached before the input was used up.
type Fill struct {
	AmountIn    uint256.Int
	AmountOut   uint256.Int
	Burned      uint256.Int
	OrdersTaken int
	Partial     bool
}

// take is one order's share of a walk.
type take struct {
	id      OrderID
	order   Order
	in, out uint256.Int
	full    bool
}

// walk matches amountIn against the best orders of direction d without
// changing anything. The walk stops when the input is used, the list ends,
// MaxOrdersPerTrade orders were taken, or the next fill would deliver
// nothing.
func (r *Reserve) walk(s *state, d Direction, amountIn *uint256.Int) ([]take, uint256.Int) {
	list := s.lists[d]
	var remaining uint256.Int
	remaining.Set(amountIn)

	var takes []take
	for id := list.Head(); id != TailID && !remaining.IsZero() && len(takes) < r.cfg.MaxOrdersPerTrade; id = list.Next(id) {
		o, _ := list.Get(id)
		t := take{id: id, order: o}
		if !remaining.Lt(&o.DstAmount) {
			t.in = o.DstAmount
			t.out = o.SrcAmount
			t.full = true
		} else {
			out, _ := MulDiv(&o.SrcAmount, &remaining, &o.DstAmount)
			if out.IsZero() {
				break
			}
			t.in = remaining
			t.out = *out
		}
		remaining.Sub(&remaining, &t.in)
		takes = append(takes, t)
	}
	return takes, remaining
}

// Quote prices a trade of amountIn in direction d. It never changes state.
func (r *Reserve) Quote(d Direction, amountIn *uint256.Int) (Quote, error) {
	if !d.Valid() {
		return Quote{}, ErrInvalidDirection
	}
	if amountIn.IsZero() {
		return Quote{}, fmt.Errorf("%w: zero quantity", ErrInvalidAmount)
	}
	list := r.state.lists[d]
	if head, ok := list.Get(list.Head()); !ok || Rate(&head.SrcAmount, &head.DstAmount).IsZero() {
		return Quote{}, nil
	}

	takes, remaining := r.walk(r.state, d, amountIn)
	var q Quote
	for _, t := range takes {
		q.AmountIn.Add(&q.AmountIn, &t.in)
		q.AmountOut.Add(&q.AmountOut, &t.out)
	}
	q.Orders = len(takes)
	q.Complete = remaining.IsZero()
	if !q.AmountIn.IsZero() {
		q.Rate = *Rate(&q.AmountOut, &q.AmountIn)
	}
	return q, nil
}

// ConversionRate is the rate offered for qty, or zero when qty cannot be
// filled completely within one trade.
func (r *Reserve) ConversionRate(d Direction, qty *uint256.Int) uint256.Int {
	if qty.IsZero() || qty.Gt(&r.cfg.MaxQty) {
		return uint256.Int{}
	}
	q, err := r.Quote(d, qty)
	if err != nil || !q.Complete {
		return uint256.Int{}
	}
	return q.Rate
}

// Trade takes up to amountIn of the ask asset of direction d from taker and
// sends what it buys to recipient. Running out of orders is not an error:
// the fill reports what was done. Only the input actually used is pulled.
func (r *Reserve) Trade(ctx context.Context, taker Address, d Direction, amountIn *uint256.Int, recipient Address) (fill Fill, err error) {
	if err = r.enter(); err != nil {
		return Fill{}, err
	}
	defer r.exit(&err)

	if !d.Valid() {
		return Fill{}, ErrInvalidDirection
	}
	if amountIn.IsZero() || amountIn.Gt(&r.cfg.MaxQty) {
		return Fill{}, fmt.Errorf("%w: trade quantity", ErrInvalidAmount)
	}

	s := r.state
	s.begin()
	defer s.end(&err)

	takes, remaining := r.walk(s, d, amountIn)
	srcAsset, dstAsset := r.assets(d)
	list := s.lists[d]

	for _, t := range takes {
		burned, err := r.applyTake(s, d, t)
		if err != nil {
			return Fill{}, fmt.Errorf("order %d: %w", t.id, err)
		}
		fill.AmountIn.Add(&fill.AmountIn, &t.in)
		fill.AmountOut.Add(&fill.AmountOut, &t.out)
		fill.Burned.Add(&fill.Burned, &burned)
	}
	fill.OrdersTaken = len(takes)
	fill.Partial = !remaining.IsZero()

	// The book and ledger already show the trade while the transfers run.
	if err = r.settle(ctx, []transfer{
		{asset: dstAsset, party: taker, amount: fill.AmountIn, pull: true},
		{asset: r.cfg.CollateralAsset, party: r.cfg.BurnRecipient, amount: fill.Burned},
		{asset: srcAsset, party: recipient, amount: fill.AmountOut},
	}); err != nil {
		return Fill{}, err
	}

	r.logger.Debug().
		Str("direction", d.String()).
		Str("in", fill.AmountIn.Dec()).
		Str("out", fill.AmountOut.Dec()).
		Int("orders", fill.OrdersTaken).
		Int("remaining_orders", list.Len()).
		Bool("partial", fill.Partial).
		Msg("trade")
	r.emit(Event{
		Type:      Traded,
		Direction: d,
		Taker:     taker,
		SrcAmount: fill.AmountIn,
		DstAmount: fill.AmountOut,
		Burned:    fill.Burned,
	})
	return fill, nil
}

// applyTake settles one order's share of a trade: the maker is paid t.in of
// the ask asset and collateral no longer needed is released, less the burn
// fee for the ETH filled. A partial fill whose remainder falls under the
// minimum order size closes the order and refunds the remainder.
func (r *Reserve) applyTake(s *state, d Direction, t take) (uint256.Int, error) {
	list := s.lists[d]
	srcAsset, dstAsset := r.assets(d)
	maker := t.order.Maker
	oldStake := r.orderStake(d, &t.order.SrcAmount, &t.order.DstAmount)

	var newSrc, newDst uint256.Int
	newSrc.Sub(&t.order.SrcAmount, &t.out)
	newDst.Sub(&t.order.DstAmount, &t.in)
	removed := t.full || newSrc.IsZero() || commitment(d, &newSrc, &newDst).Lt(&r.cfg.MinOrderSize)

	var newStake uint256.Int
	if removed {
		if err := list.Remove(t.id); err != nil {
			return uint256.Int{}, err
		}
		if err := s.ledger.Credit(maker, srcAsset, &newSrc); err != nil {
			return uint256.Int{}, err
		}
	} else {
		if err := list.Resize(t.id, &newSrc, &newDst); err != nil {
			return uint256.Int{}, err
		}
		newStake = r.orderStake(d, &newSrc, &newDst)
	}
	if err := s.ledger.Credit(maker, dstAsset, &t.in); err != nil {
		return uint256.Int{}, err
	}

	var released uint256.Int
	released.Sub(&oldStake, &newStake)
	burn := r.CalcBurnAmount(commitment(d, &t.out, &t.in))
	if burn.Gt(&released) {
		r.logger.Warn().
			Uint32("id", uint32(t.id)).
			Str("burn", burn.Dec()).
			Str("released", released.Dec()).
			Msg("burn fee capped at released collateral")
		burn = released
	}
	var keep uint256.Int
	keep.Sub(&released, &burn)
	if err := s.ledger.ReleaseCollateral(maker, &released, &keep); err != nil {
		return uint256.Int{}, err
	}

	ev := Event{
		Type:      PartialOrderTaken,
		Direction: d,
		OrderID:   t.id,
		Maker:     maker,
		SrcAmount: t.out,
		DstAmount: t.in,
		Burned:    burn,
		Removed:   removed,
	}
	if t.full {
		ev.Type = FullOrderTaken
	}
	r.emit(ev)
	return burn, nil
}
