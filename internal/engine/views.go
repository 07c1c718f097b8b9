package engine

import (
	"fmt"

	. "obreserve/internal/common"
	"obreserve/internal/ledger"

	"github.com/holiman/uint256"
)

func (r *Reserve) GetOrder(d Direction, id OrderID) (Order, error) {
	list, err := r.list(d)
	if err != nil {
		return Order{}, err
	}
	o, ok := list.Get(id)
	if !ok {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, nil
}

// GetOrderList returns the IDs of direction d, best first.
func (r *Reserve) GetOrderList(d Direction) ([]OrderID, error) {
	list, err := r.list(d)
	if err != nil {
		return nil, err
	}
	return list.IDs(), nil
}

// GetAddOrderHint returns the predecessor a new order would get, so that
// submitting it with this hint takes the short path.
func (r *Reserve) GetAddOrderHint(d Direction, src, dst *uint256.Int) (OrderID, error) {
	list, err := r.list(d)
	if err != nil {
		return NoOrder, err
	}
	if src.IsZero() || dst.IsZero() {
		return NoOrder, ErrInvalidAmount
	}
	prev, _ := list.FindInsertPosition(src, dst, NoOrder)
	return prev, nil
}

// GetUpdateOrderHint returns the predecessor order id would have after an
// update to src and dst.
func (r *Reserve) GetUpdateOrderHint(d Direction, id OrderID, src, dst *uint256.Int) (OrderID, error) {
	list, err := r.list(d)
	if err != nil {
		return NoOrder, err
	}
	if !list.Contains(id) {
		return NoOrder, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if src.IsZero() || dst.IsZero() {
		return NoOrder, ErrInvalidAmount
	}
	prev, _ := list.FindUpdatePosition(id, src, dst, NoOrder)
	return prev, nil
}

// MakerOrders returns maker's open order IDs in direction d.
func (r *Reserve) MakerOrders(maker Address, d Direction) ([]OrderID, error) {
	list, err := r.list(d)
	if err != nil {
		return nil, err
	}
	return list.MakerOrders(maker), nil
}

func (r *Reserve) MakerFunds(maker, asset Address) uint256.Int {
	return r.state.ledger.Funds(maker, asset)
}

func (r *Reserve) MakerCollateral(maker Address) ledger.Collateral {
	return r.state.ledger.Collateral(maker)
}

// CanAllocate reports whether maker can place another order in d.
func (r *Reserve) CanAllocate(maker Address, d Direction) bool {
	list, err := r.list(d)
	return err == nil && list.CanAllocate(maker)
}
