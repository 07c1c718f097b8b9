package main

import (
	"errors"
	"fmt"
	stdnet "net"
	"os"
	"strconv"
	"strings"
	"time"

	. "obreserve/internal/common"
	"obreserve/internal/config"
	"obreserve/internal/net"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	caller  string
	timeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "obreserve-client",
		Short:        "Talk to an order book reserve server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "127.0.0.1:9440", "address of the reserve server")
	root.PersistentFlags().StringVar(&opts.caller, "as", "", "caller address (compulsory)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "reply timeout")
	_ = root.MarkPersistentFlagRequired("as")

	var hint uint32
	var recipient string

	// Each command builds a request from its arguments.
	commands := []struct {
		use   string
		short string
		args  int
		build func(args []string) (net.Request, error)
	}{
		{"mint ASSET AMOUNT", "Mint test balance (faucet must be on)", 2, assetAmount(net.Mint)},
		{"approve ASSET AMOUNT", "Let the reserve pull AMOUNT of ASSET", 2, assetAmount(net.Approve)},
		{"deposit ASSET AMOUNT", "Deposit ETH or tokens", 2, assetAmount(net.Deposit)},
		{"withdraw ASSET AMOUNT", "Withdraw free ETH or tokens", 2, assetAmount(net.Withdraw)},
		{"deposit-collateral AMOUNT", "Deposit collateral", 1, amountOnly(net.DepositCollateral)},
		{"withdraw-collateral AMOUNT", "Withdraw free collateral", 1, amountOnly(net.WithdrawCollateral)},
		{"submit DIRECTION SRC DST", "Submit an order", 3, func(args []string) (net.Request, error) {
			m, err := orderAmounts(net.SubmitOrder, args[0], args[1], args[2])
			m.Hint = OrderID(hint)
			return m, err
		}},
		{"update DIRECTION ID SRC DST", "Update an order", 4, func(args []string) (net.Request, error) {
			m, err := orderAmounts(net.UpdateOrder, args[0], args[2], args[3])
			if err == nil {
				m.ID, err = parseID(args[1])
			}
			m.Hint = OrderID(hint)
			return m, err
		}},
		{"cancel DIRECTION ID", "Cancel an order", 2, directionID(net.CancelOrder)},
		{"get DIRECTION ID", "Show one order", 2, directionID(net.GetOrder)},
		{"trade DIRECTION AMOUNT", "Take orders paying AMOUNT", 2, func(args []string) (net.Request, error) {
			m, err := directionAmount(net.Trade)(args)
			if err == nil && recipient != "" {
				m.Recipient, err = parseAsset(recipient)
			}
			return m, err
		}},
		{"quote DIRECTION AMOUNT", "Quote a trade", 2, directionAmount(net.Quote)},
		{"rate DIRECTION AMOUNT", "Conversion rate for a full fill", 2, directionAmount(net.ConversionRate)},
		{"hint DIRECTION SRC DST", "Find where a new order would go", 3, func(args []string) (net.Request, error) {
			return orderAmounts(net.AddHint, args[0], args[1], args[2])
		}},
		{"list DIRECTION", "List a book best first", 1, directionOnly(net.OrderList)},
		{"orders DIRECTION", "List your open orders", 1, directionOnly(net.MakerOrders)},
		{"balance ASSET", "Show free funds and collateral", 1, func(args []string) (net.Request, error) {
			asset, err := parseAsset(args[0])
			return net.Request{Type: net.Balance, Asset: asset}, err
		}},
		{"watch", "Wait for execution reports", 0, func([]string) (net.Request, error) {
			return net.Request{Type: net.Heartbeat}, nil
		}},
	}

	for _, c := range commands {
		cmd := &cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.ExactArgs(c.args),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := c.build(args)
				if err != nil {
					return err
				}
				watch := strings.HasPrefix(c.use, "watch")
				return send(cmd, opts, m, watch)
			},
		}
		switch {
		case strings.HasPrefix(c.use, "submit"), strings.HasPrefix(c.use, "update"):
			cmd.Flags().Uint32Var(&hint, "hint", 0, "order to insert after")
		case strings.HasPrefix(c.use, "trade"):
			cmd.Flags().StringVar(&recipient, "to", "", "recipient (default caller)")
		}
		root.AddCommand(cmd)
	}
	return root
}

// send delivers one request and prints the reply. With watch it keeps
// printing reports until interrupted.
func send(cmd *cobra.Command, opts *options, m net.Request, watch bool) error {
	if !IsHexAddress(opts.caller) {
		return fmt.Errorf("invalid caller address %q", opts.caller)
	}
	m.Caller = HexToAddress(opts.caller)

	buf, err := m.Encode()
	if err != nil {
		return err
	}

	conn, err := stdnet.DialTimeout("tcp", opts.server, opts.timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.server, err)
	}
	defer conn.Close()

	if _, err := conn.Write(buf); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		if !watch {
			if err := conn.SetReadDeadline(time.Now().Add(opts.timeout)); err != nil {
				return err
			}
		}
		payload, err := net.ReadFrame(conn)
		if err != nil {
			return err
		}
		report, err := net.ParseReport(payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, report)

		switch {
		case report.Type == net.ErrorReport:
			return errors.New(report.Err)
		case report.Type == net.ExecutionReport:
		case !watch:
			return nil
		}
	}
}

func parseAsset(s string) (Address, error) {
	if strings.EqualFold(s, "eth") {
		return EthAddress, nil
	}
	if !IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid asset %q", s)
	}
	return HexToAddress(s), nil
}

func parseAmount(s string) (uint256.Int, error) {
	return config.ParseUnits(s, Decimals)
}

func parseID(s string) (OrderID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return NoOrder, fmt.Errorf("invalid order id %q", s)
	}
	return OrderID(v), nil
}

func assetAmount(t net.MessageType) func([]string) (net.Request, error) {
	return func(args []string) (net.Request, error) {
		m := net.Request{Type: t}
		asset, err := parseAsset(args[0])
		if err != nil {
			return m, err
		}
		m.Asset = asset
		m.Amount, err = parseAmount(args[1])
		return m, err
	}
}

func amountOnly(t net.MessageType) func([]string) (net.Request, error) {
	return func(args []string) (net.Request, error) {
		m := net.Request{Type: t}
		var err error
		m.Amount, err = parseAmount(args[0])
		return m, err
	}
}

func directionOnly(t net.MessageType) func([]string) (net.Request, error) {
	return func(args []string) (net.Request, error) {
		d, err := ParseDirection(args[0])
		return net.Request{Type: t, Direction: d}, err
	}
}

func directionID(t net.MessageType) func([]string) (net.Request, error) {
	return func(args []string) (net.Request, error) {
		m, err := directionOnly(t)(args)
		if err != nil {
			return m, err
		}
		m.ID, err = parseID(args[1])
		return m, err
	}
}

func directionAmount(t net.MessageType) func([]string) (net.Request, error) {
	return func(args []string) (net.Request, error) {
		m, err := directionOnly(t)(args)
		if err != nil {
			return m, err
		}
		m.Amount, err = parseAmount(args[1])
		return m, err
	}
}

func orderAmounts(t net.MessageType, dir, src, dst string) (net.Request, error) {
	m, err := directionOnly(t)([]string{dir})
	if err != nil {
		return m, err
	}
	if m.SrcAmount, err = parseAmount(src); err != nil {
		return m, err
	}
	m.DstAmount, err = parseAmount(dst)
	return m, err
}
