package engine

import (
	"errors"
	"fmt"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// Config holds the fixed parameters of one reserve.
type Config struct {
	EthAsset        Address
	TokenAsset      Address
	CollateralAsset Address

	// Reserve is the account holding every deposit at the vault.
	Reserve Address
	// BurnRecipient receives collateral forfeited as burn fees.
	BurnRecipient Address

	OrdersPerMaker    uint32
	MaxOrdersPerTrade int

	// Order size limits, in ETH.
	MinNewOrderSize uint256.Int
	MinOrderSize    uint256.Int

	StakeRateBps uint64
	BurnFeeBps   uint64

	MaxQty  uint256.Int
	MaxRate uint256.Int
}

// DefaultConfig returns the limits of a standard deployment. Asset and
// account addresses are left for the caller.
func DefaultConfig() Config {
	return Config{
		EthAsset:          EthAddress,
		OrdersPerMaker:    256,
		MaxOrdersPerTrade: 10,
		MinNewOrderSize:   Ether(2),
		MinOrderSize:      Ether(1),
		StakeRateBps:      125,
		BurnFeeBps:        25,
		MaxQty:            *uint256.MustFromDecimal("10000000000000000000000000000"),
		MaxRate:           *uint256.MustFromDecimal("1000000000000000000000000"),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.EthAsset == c.TokenAsset || c.TokenAsset == c.CollateralAsset || c.EthAsset == c.CollateralAsset {
		errs = append(errs, errors.New("eth, token and collateral assets must differ"))
	}
	if c.Reserve == (Address{}) {
		errs = append(errs, errors.New("reserve account is required"))
	}
	if c.OrdersPerMaker == 0 {
		errs = append(errs, errors.New("orders per maker must be positive"))
	}
	if c.MaxOrdersPerTrade <= 0 {
		errs = append(errs, errors.New("max orders per trade must be positive"))
	}
	if c.MinOrderSize.IsZero() {
		errs = append(errs, errors.New("min order size must be positive"))
	}
	if c.MinNewOrderSize.Lt(&c.MinOrderSize) {
		errs = append(errs, errors.New("min new order size below min order size"))
	}
	if c.StakeRateBps > BPS || c.BurnFeeBps > BPS {
		errs = append(errs, fmt.Errorf("basis points above %d", BPS))
	}
	if c.MaxQty.IsZero() || c.MaxRate.IsZero() {
		errs = append(errs, errors.New("max quantity and max rate must be positive"))
	}
	return errors.Join(errs...)
}
