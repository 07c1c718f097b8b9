package engine

import (
	"context"
	"fmt"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// OrderRequest is one entry of SubmitBatch.
type OrderRequest struct {
	Direction Direction
	SrcAmount uint256.Int
	DstAmount uint256.Int
	Hint      OrderID
	// AfterPrevious hints the order placed by the previous entry, when it
	// went to the same list.
	AfterPrevious bool
}

// UpdateRequest is one entry of UpdateBatch.
type UpdateRequest struct {
	Direction Direction
	ID        OrderID
	SrcAmount uint256.Int
	DstAmount uint256.Int
	Hint      OrderID
}

type OrderRef struct {
	Direction Direction
	ID        OrderID
}

// Release is what a cancelled order returned to its maker's free balances.
type Release struct {
	Asset      Address
	Funds      uint256.Int
	Collateral uint256.Int
}

// Deposit pulls amount of ETH or token from maker into its free funds.
func (r *Reserve) Deposit(ctx context.Context, maker, asset Address, amount *uint256.Int) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	if asset != r.cfg.EthAsset && asset != r.cfg.TokenAsset {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, asset.Hex())
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: zero deposit", ErrInvalidAmount)
	}
	if err = r.state.ledger.Deposit(maker, asset, amount); err != nil {
		return err
	}
	if err = r.settle(ctx, []transfer{{asset: asset, party: maker, amount: *amount, pull: true}}); err != nil {
		_ = r.state.ledger.Withdraw(maker, asset, amount)
		return err
	}
	r.emit(Event{Type: FundsDeposited, Maker: maker, Asset: asset, SrcAmount: *amount})
	return nil
}

// Withdraw sends amount of maker's free funds back to maker.
func (r *Reserve) Withdraw(ctx context.Context, maker, asset Address, amount *uint256.Int) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	if asset != r.cfg.EthAsset && asset != r.cfg.TokenAsset {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, asset.Hex())
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: zero withdrawal", ErrInvalidAmount)
	}
	if err = r.state.ledger.Withdraw(maker, asset, amount); err != nil {
		return err
	}
	if err = r.settle(ctx, []transfer{{asset: asset, party: maker, amount: *amount}}); err != nil {
		_ = r.state.ledger.Deposit(maker, asset, amount)
		return err
	}
	r.emit(Event{Type: FundsWithdrawn, Maker: maker, Asset: asset, SrcAmount: *amount})
	return nil
}

func (r *Reserve) DepositCollateral(ctx context.Context, maker Address, amount *uint256.Int) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	if amount.IsZero() {
		return fmt.Errorf("%w: zero deposit", ErrInvalidAmount)
	}
	asset := r.cfg.CollateralAsset
	if err = r.state.ledger.DepositCollateral(maker, amount); err != nil {
		return err
	}
	if err = r.settle(ctx, []transfer{{asset: asset, party: maker, amount: *amount, pull: true}}); err != nil {
		_ = r.state.ledger.WithdrawCollateral(maker, amount)
		return err
	}
	r.emit(Event{Type: CollateralDeposited, Maker: maker, Asset: asset, SrcAmount: *amount})
	return nil
}

// WithdrawCollateral returns free collateral to maker. Bound collateral
// stays until its orders are cancelled or filled.
func (r *Reserve) WithdrawCollateral(ctx context.Context, maker Address, amount *uint256.Int) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	if amount.IsZero() {
		return fmt.Errorf("%w: zero withdrawal", ErrInvalidAmount)
	}
	asset := r.cfg.CollateralAsset
	if err = r.state.ledger.WithdrawCollateral(maker, amount); err != nil {
		return err
	}
	if err = r.settle(ctx, []transfer{{asset: asset, party: maker, amount: *amount}}); err != nil {
		_ = r.state.ledger.DepositCollateral(maker, amount)
		return err
	}
	r.emit(Event{Type: CollateralWithdrawn, Maker: maker, Asset: asset, SrcAmount: *amount})
	return nil
}

// Submit places a new order offering src for dst. hint is the order
// expected to precede it, or NoOrder to search.
func (r *Reserve) Submit(maker Address, d Direction, src, dst *uint256.Int, hint OrderID) (id OrderID, err error) {
	if err = r.enter(); err != nil {
		return NoOrder, err
	}
	defer r.exit(&err)
	return r.submit(r.state, maker, d, src, dst, hint)
}

// Update changes the amounts of an open order of maker.
func (r *Reserve) Update(maker Address, d Direction, id OrderID, src, dst *uint256.Int, hint OrderID) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)
	return r.update(r.state, maker, d, id, src, dst, hint)
}

// Cancel removes an open order of maker, freeing its funds and collateral.
func (r *Reserve) Cancel(maker Address, d Direction, id OrderID) (rel Release, err error) {
	if err = r.enter(); err != nil {
		return Release{}, err
	}
	defer r.exit(&err)
	return r.cancel(r.state, maker, d, id)
}

// SubmitBatch places several orders of maker. Either all are placed or
// none is.
func (r *Reserve) SubmitBatch(maker Address, reqs []OrderRequest) (ids []OrderID, err error) {
	if err = r.enter(); err != nil {
		return nil, err
	}
	defer r.exit(&err)

	s := r.state
	s.begin()
	defer s.end(&err)

	ids = make([]OrderID, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		hint := req.Hint
		if req.AfterPrevious && i > 0 && reqs[i-1].Direction == req.Direction {
			hint = ids[i-1]
		}
		ids[i], err = r.submit(s, maker, req.Direction, &req.SrcAmount, &req.DstAmount, hint)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
	}
	return ids, nil
}

// UpdateBatch updates several orders of maker, all or nothing.
func (r *Reserve) UpdateBatch(maker Address, reqs []UpdateRequest) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	s := r.state
	s.begin()
	defer s.end(&err)

	for i := range reqs {
		req := &reqs[i]
		if err = r.update(s, maker, req.Direction, req.ID, &req.SrcAmount, &req.DstAmount, req.Hint); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
	}
	return nil
}

// CancelBatch cancels several orders of maker, all or nothing.
func (r *Reserve) CancelBatch(maker Address, refs []OrderRef) (err error) {
	if err = r.enter(); err != nil {
		return err
	}
	defer r.exit(&err)

	s := r.state
	s.begin()
	defer s.end(&err)

	for i, ref := range refs {
		if _, err = r.cancel(s, maker, ref.Direction, ref.ID); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
	}
	return nil
}

// submit checks everything that can fail before the first write.
func (r *Reserve) submit(s *state, maker Address, d Direction, src, dst *uint256.Int, hint OrderID) (OrderID, error) {
	if !d.Valid() {
		return NoOrder, ErrInvalidDirection
	}
	if err := r.checkAmounts(src, dst); err != nil {
		return NoOrder, err
	}
	if commitment(d, src, dst).Lt(&r.cfg.MinNewOrderSize) {
		return NoOrder, ErrBelowMinimumOrderSize
	}

	srcAsset, _ := r.assets(d)
	stake := r.orderStake(d, src, dst)
	if free := s.ledger.Funds(maker, srcAsset); free.Lt(src) {
		return NoOrder, ErrInsufficientFunds
	}
	if c := s.ledger.Collateral(maker); c.Free.Lt(&stake) {
		return NoOrder, ErrInsufficientCollateral
	}
	list := s.lists[d]
	if !list.CanAllocate(maker) {
		return NoOrder, ErrMakerOrderCapacityExceeded
	}

	if err := s.ledger.Commit(maker, srcAsset, src); err != nil {
		return NoOrder, err
	}
	if err := s.ledger.BindCollateral(maker, &stake); err != nil {
		return NoOrder, err
	}
	id, p, err := list.Add(maker, src, dst, hint)
	if err != nil {
		return NoOrder, err
	}

	r.logger.Debug().
		Uint32("id", uint32(id)).
		Str("direction", d.String()).
		Int("steps", p.Steps).
		Msg("order submitted")
	r.emit(Event{
		Type:      OrderSubmitted,
		Direction: d,
		OrderID:   id,
		Maker:     maker,
		SrcAmount: *src,
		DstAmount: *dst,
	})
	return id, nil
}

func (r *Reserve) update(s *state, maker Address, d Direction, id OrderID, src, dst *uint256.Int, hint OrderID) error {
	if !d.Valid() {
		return ErrInvalidDirection
	}
	list := s.lists[d]
	o, ok := list.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Maker != maker {
		return ErrUnauthorized
	}
	if err := r.checkAmounts(src, dst); err != nil {
		return err
	}
	if commitment(d, src, dst).Lt(&r.cfg.MinOrderSize) {
		return ErrBelowMinimumOrderSize
	}

	srcAsset, _ := r.assets(d)
	oldStake := r.orderStake(d, &o.SrcAmount, &o.DstAmount)
	newStake := r.orderStake(d, src, dst)

	var fundsUp, stakeUp uint256.Int
	if src.Gt(&o.SrcAmount) {
		fundsUp.Sub(src, &o.SrcAmount)
		if free := s.ledger.Funds(maker, srcAsset); free.Lt(&fundsUp) {
			return ErrInsufficientFunds
		}
	}
	if newStake.Gt(&oldStake) {
		stakeUp.Sub(&newStake, &oldStake)
		if c := s.ledger.Collateral(maker); c.Free.Lt(&stakeUp) {
			return ErrInsufficientCollateral
		}
	}

	if src.Gt(&o.SrcAmount) {
		if err := s.ledger.Commit(maker, srcAsset, &fundsUp); err != nil {
			return err
		}
	} else {
		var down uint256.Int
		down.Sub(&o.SrcAmount, src)
		if err := s.ledger.Credit(maker, srcAsset, &down); err != nil {
			return err
		}
	}
	if newStake.Gt(&oldStake) {
		if err := s.ledger.BindCollateral(maker, &stakeUp); err != nil {
			return err
		}
	} else {
		var down uint256.Int
		down.Sub(&oldStake, &newStake)
		if err := s.ledger.ReleaseCollateral(maker, &down, &down); err != nil {
			return err
		}
	}
	p, err := list.Update(id, src, dst, hint)
	if err != nil {
		return err
	}

	r.logger.Debug().
		Uint32("id", uint32(id)).
		Bool("moved", p.Moved).
		Int("steps", p.Steps).
		Msg("order updated")
	r.emit(Event{
		Type:      OrderUpdated,
		Direction: d,
		OrderID:   id,
		Maker:     maker,
		SrcAmount: *src,
		DstAmount: *dst,
	})
	return nil
}

func (r *Reserve) cancel(s *state, maker Address, d Direction, id OrderID) (Release, error) {
	if !d.Valid() {
		return Release{}, ErrInvalidDirection
	}
	list := s.lists[d]
	o, ok := list.Get(id)
	if !ok {
		return Release{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Maker != maker {
		return Release{}, ErrUnauthorized
	}

	srcAsset, _ := r.assets(d)
	stake := r.orderStake(d, &o.SrcAmount, &o.DstAmount)
	if err := list.Remove(id); err != nil {
		return Release{}, err
	}
	if err := s.ledger.Credit(maker, srcAsset, &o.SrcAmount); err != nil {
		return Release{}, err
	}
	if err := s.ledger.ReleaseCollateral(maker, &stake, &stake); err != nil {
		return Release{}, err
	}

	r.emit(Event{
		Type:      OrderCanceled,
		Direction: d,
		OrderID:   id,
		Maker:     maker,
		SrcAmount: o.SrcAmount,
		DstAmount: o.DstAmount,
	})
	return Release{Asset: srcAsset, Funds: o.SrcAmount, Collateral: stake}, nil
}
