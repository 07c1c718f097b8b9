package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

type EventType uint8

const (
	OrderSubmitted EventType = iota
	OrderUpdated
	OrderCanceled
	FullOrderTaken
	PartialOrderTaken
	Traded
	FundsDeposited
	FundsWithdrawn
	CollateralDeposited
	CollateralWithdrawn
)

var eventNames = [...]string{
	OrderSubmitted:      "order_submitted",
	OrderUpdated:        "order_updated",
	OrderCanceled:       "order_canceled",
	FullOrderTaken:      "full_order_taken",
	PartialOrderTaken:   "partial_order_taken",
	Traded:              "trade",
	FundsDeposited:      "funds_deposited",
	FundsWithdrawn:      "funds_withdrawn",
	CollateralDeposited: "collateral_deposited",
	CollateralWithdrawn: "collateral_withdrawn",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event records one committed state change of the reserve.
//
// For order events SrcAmount and DstAmount are the order's amounts after the
// change; for taken orders they are the amounts exchanged. For Traded they
// are the taker's input and output. Balance events carry the amount in
// SrcAmount.
type Event struct {
	Type      EventType
	Direction Direction
	OrderID   OrderID
	Maker     Address
	Taker     Address
	Asset     Address
	SrcAmount uint256.Int
	DstAmount uint256.Int
	Burned    uint256.Int
	Removed   bool
}

func (e Event) String() string {
	return fmt.Sprintf("%s dir=%s id=%d maker=%s src=%s dst=%s",
		e.Type, e.Direction, e.OrderID, e.Maker.Hex(), e.SrcAmount.Dec(), e.DstAmount.Dec())
}
