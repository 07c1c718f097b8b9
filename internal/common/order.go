package common

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Address = common.Address

// EthAddress stands for the native asset.
var EthAddress = HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

func HexToAddress(s string) Address {
	return common.HexToAddress(s)
}

// IsHexAddress reports whether s is a 20 byte hex address, with or without
// the 0x prefix.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(s)
}

// OrderID identifies an order within one direction's list.
type OrderID uint32

const (
	NoOrder OrderID = 0 // No order, or "let the engine search" when used as a hint.
	TailID  OrderID = 1
	HeadID  OrderID = 2

	// FirstOrderID is the first ID handed out to makers.
	FirstOrderID OrderID = 3
)

func (id OrderID) IsSentinel() bool {
	return id == HeadID || id == TailID
}

type Direction uint8

const (
	// EthToToken orders offer ETH and ask for tokens.
	EthToToken Direction = iota
	// TokenToEth orders offer tokens and ask for ETH.
	TokenToEth
)

var Directions = [...]Direction{EthToToken, TokenToEth}

func (d Direction) Valid() bool {
	return d == EthToToken || d == TokenToEth
}

func (d Direction) String() string {
	switch d {
	case EthToToken:
		return "eth-to-token"
	case TokenToEth:
		return "token-to-eth"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "eth-to-token", "buy":
		return EthToToken, nil
	case "token-to-eth", "sell":
		return TokenToEth, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Order is a resting limit order. SrcAmount is what the maker offers and
// DstAmount what the maker wants in exchange.
type Order struct {
	ID        OrderID
	Maker     Address
	SrcAmount uint256.Int
	DstAmount uint256.Int
	PrevID    OrderID
	NextID    OrderID
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:        %d
Maker:     %s
SrcAmount: %s
DstAmount: %s
Prev:      %d
Next:      %d`,
		order.ID,
		order.Maker.Hex(),
		order.SrcAmount.Dec(),
		order.DstAmount.Dec(),
		order.PrevID,
		order.NextID,
	)
}
