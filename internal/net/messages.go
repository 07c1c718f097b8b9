package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	. "obreserve/internal/common"
	"obreserve/internal/engine"
	"obreserve/internal/ledger"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrTrailingBytes      = errors.New("trailing bytes in message")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	Deposit
	Withdraw
	DepositCollateral
	WithdrawCollateral
	SubmitOrder
	UpdateOrder
	CancelOrder
	SubmitBatch
	UpdateBatch
	CancelBatch
	Trade
	Quote
	ConversionRate
	OrderList
	GetOrder
	AddHint
	UpdateHint
	MakerOrders
	Balance
	Mint
	Approve
	messageTypeCount
)

var messageNames = [...]string{
	Heartbeat:          "heartbeat",
	Deposit:            "deposit",
	Withdraw:           "withdraw",
	DepositCollateral:  "deposit_collateral",
	WithdrawCollateral: "withdraw_collateral",
	SubmitOrder:        "submit_order",
	UpdateOrder:        "update_order",
	CancelOrder:        "cancel_order",
	SubmitBatch:        "submit_batch",
	UpdateBatch:        "update_batch",
	CancelBatch:        "cancel_batch",
	Trade:              "trade",
	Quote:              "quote",
	ConversionRate:     "conversion_rate",
	OrderList:          "order_list",
	GetOrder:           "get_order",
	AddHint:            "add_hint",
	UpdateHint:         "update_hint",
	MakerOrders:        "maker_orders",
	Balance:            "balance",
	Mint:               "mint",
	Approve:            "approve",
}

func (t MessageType) String() string {
	if t < messageTypeCount {
		return messageNames[t]
	}
	return fmt.Sprintf("message(%d)", uint16(t))
}

func (t MessageType) Valid() bool {
	return t < messageTypeCount
}

// Frame layout: [len:4][payload:len]. Requests start their payload with
// [type:2][caller:20], reports with [type:1][request:2].
const (
	FrameHeaderLen = 4
	MaxFrameLen    = 64 * 1024

	addrLen   = 20
	amountLen = 32
	idLen     = 4

	// Entries in one batch request.
	MaxBatchLen = 255
)

// Request is a decoded client request. Only the fields its type carries
// are set.
type Request struct {
	Type      MessageType
	Caller    Address
	Direction Direction
	Asset     Address
	Recipient Address
	ID        OrderID
	Hint      OrderID
	Amount    uint256.Int
	SrcAmount uint256.Int
	DstAmount uint256.Int
	Orders    []engine.OrderRequest
	Updates   []engine.UpdateRequest
	Refs      []engine.OrderRef
}

func (r Request) GetType() MessageType {
	return r.Type
}

// --- encoding helpers ---

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) addr(a Address) {
	w.buf = append(w.buf, a[:]...)
}

func (w *writer) amount(v *uint256.Int) {
	b := v.Bytes32()
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) id(id OrderID) {
	w.u32(uint32(id))
}

func (w *writer) dir(d Direction) {
	w.u8(uint8(d))
}

func (w *writer) flag(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	if len(s) > 0xffff {
		s = s[:0xffff]
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// reader decodes fixed-width fields and remembers the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if len(r.buf) < n {
		r.err = ErrMessageTooShort
		return make([]byte, n)
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() uint8 {
	return r.take(1)[0]
}

func (r *reader) u16() uint16 {
	return binary.BigEndian.Uint16(r.take(2))
}

func (r *reader) u32() uint32 {
	return binary.BigEndian.Uint32(r.take(4))
}

func (r *reader) addr() Address {
	var a Address
	copy(a[:], r.take(addrLen))
	return a
}

func (r *reader) amount() uint256.Int {
	var v uint256.Int
	v.SetBytes32(r.take(amountLen))
	return v
}

func (r *reader) id() OrderID {
	return OrderID(r.u32())
}

func (r *reader) flag() bool {
	return r.u8() != 0
}

func (r *reader) dir() Direction {
	d := Direction(r.u8())
	if r.err == nil && !d.Valid() {
		r.err = ErrInvalidDirection
	}
	return d
}

func (r *reader) str() string {
	n := int(r.u16())
	return string(r.take(n))
}

func (r *reader) count() int {
	n := int(r.u8())
	if r.err == nil && n > MaxBatchLen {
		r.err = ErrMessageTooLong
	}
	return n
}

// done reports the first decode error or leftover bytes.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return ErrTrailingBytes
	}
	return nil
}

// --- requests ---

// Encode serializes the request into a frame.
func (m Request) Encode() ([]byte, error) {
	if !m.Type.Valid() {
		return nil, ErrInvalidMessageType
	}
	w := writer{buf: make([]byte, FrameHeaderLen, 64)}
	w.u16(uint16(m.Type))
	w.addr(m.Caller)

	switch m.Type {
	case Heartbeat:
	case Deposit, Withdraw, Mint, Approve:
		w.addr(m.Asset)
		w.amount(&m.Amount)
	case DepositCollateral, WithdrawCollateral:
		w.amount(&m.Amount)
	case SubmitOrder:
		w.dir(m.Direction)
		w.amount(&m.SrcAmount)
		w.amount(&m.DstAmount)
		w.id(m.Hint)
	case UpdateOrder:
		w.dir(m.Direction)
		w.id(m.ID)
		w.amount(&m.SrcAmount)
		w.amount(&m.DstAmount)
		w.id(m.Hint)
	case CancelOrder, GetOrder:
		w.dir(m.Direction)
		w.id(m.ID)
	case SubmitBatch:
		if len(m.Orders) > MaxBatchLen {
			return nil, ErrMessageTooLong
		}
		w.u8(uint8(len(m.Orders)))
		for _, o := range m.Orders {
			w.dir(o.Direction)
			w.amount(&o.SrcAmount)
			w.amount(&o.DstAmount)
			w.id(o.Hint)
			w.flag(o.AfterPrevious)
		}
	case UpdateBatch:
		if len(m.Updates) > MaxBatchLen {
			return nil, ErrMessageTooLong
		}
		w.u8(uint8(len(m.Updates)))
		for _, u := range m.Updates {
			w.dir(u.Direction)
			w.id(u.ID)
			w.amount(&u.SrcAmount)
			w.amount(&u.DstAmount)
			w.id(u.Hint)
		}
	case CancelBatch:
		if len(m.Refs) > MaxBatchLen {
			return nil, ErrMessageTooLong
		}
		w.u8(uint8(len(m.Refs)))
		for _, ref := range m.Refs {
			w.dir(ref.Direction)
			w.id(ref.ID)
		}
	case Trade:
		w.dir(m.Direction)
		w.amount(&m.Amount)
		w.addr(m.Recipient)
	case Quote, ConversionRate:
		w.dir(m.Direction)
		w.amount(&m.Amount)
	case OrderList, MakerOrders:
		w.dir(m.Direction)
	case AddHint:
		w.dir(m.Direction)
		w.amount(&m.SrcAmount)
		w.amount(&m.DstAmount)
	case UpdateHint:
		w.dir(m.Direction)
		w.id(m.ID)
		w.amount(&m.SrcAmount)
		w.amount(&m.DstAmount)
	case Balance:
		w.addr(m.Asset)
	}
	return frame(w.buf)
}

// parseMessage decodes a frame payload, without the length prefix.
func parseMessage(msg []byte) (Request, error) {
	r := reader{buf: msg}
	m := Request{Type: MessageType(r.u16())}
	m.Caller = r.addr()
	if r.err != nil {
		return Request{}, r.err
	}
	if !m.Type.Valid() {
		return Request{}, ErrInvalidMessageType
	}

	switch m.Type {
	case Heartbeat:
	case Deposit, Withdraw, Mint, Approve:
		m.Asset = r.addr()
		m.Amount = r.amount()
	case DepositCollateral, WithdrawCollateral:
		m.Amount = r.amount()
	case SubmitOrder:
		m.Direction = r.dir()
		m.SrcAmount = r.amount()
		m.DstAmount = r.amount()
		m.Hint = r.id()
	case UpdateOrder:
		m.Direction = r.dir()
		m.ID = r.id()
		m.SrcAmount = r.amount()
		m.DstAmount = r.amount()
		m.Hint = r.id()
	case CancelOrder, GetOrder:
		m.Direction = r.dir()
		m.ID = r.id()
	case SubmitBatch:
		n := r.count()
		for i := 0; i < n && r.err == nil; i++ {
			m.Orders = append(m.Orders, engine.OrderRequest{
				Direction:     r.dir(),
				SrcAmount:     r.amount(),
				DstAmount:     r.amount(),
				Hint:          r.id(),
				AfterPrevious: r.flag(),
			})
		}
	case UpdateBatch:
		n := r.count()
		for i := 0; i < n && r.err == nil; i++ {
			m.Updates = append(m.Updates, engine.UpdateRequest{
				Direction: r.dir(),
				ID:        r.id(),
				SrcAmount: r.amount(),
				DstAmount: r.amount(),
				Hint:      r.id(),
			})
		}
	case CancelBatch:
		n := r.count()
		for i := 0; i < n && r.err == nil; i++ {
			m.Refs = append(m.Refs, engine.OrderRef{Direction: r.dir(), ID: r.id()})
		}
	case Trade:
		m.Direction = r.dir()
		m.Amount = r.amount()
		m.Recipient = r.addr()
	case Quote, ConversionRate:
		m.Direction = r.dir()
		m.Amount = r.amount()
	case OrderList, MakerOrders:
		m.Direction = r.dir()
	case AddHint:
		m.Direction = r.dir()
		m.SrcAmount = r.amount()
		m.DstAmount = r.amount()
	case UpdateHint:
		m.Direction = r.dir()
		m.ID = r.id()
		m.SrcAmount = r.amount()
		m.DstAmount = r.amount()
	case Balance:
		m.Asset = r.addr()
	}

	if err := r.done(); err != nil {
		return Request{}, fmt.Errorf("%s: %w", m.Type, err)
	}
	return m, nil
}

// --- reports ---

type ReportType uint8

const (
	AckReport ReportType = iota
	ErrorReport
	OrderReport
	QuoteReport
	TradeReport
	ListReport
	BalanceReport
	ExecutionReport
	reportTypeCount
)

var reportNames = [...]string{
	AckReport:       "ack",
	ErrorReport:     "error",
	OrderReport:     "order",
	QuoteReport:     "quote",
	TradeReport:     "trade",
	ListReport:      "list",
	BalanceReport:   "balance",
	ExecutionReport: "execution",
}

func (t ReportType) String() string {
	if t < reportTypeCount {
		return reportNames[t]
	}
	return fmt.Sprintf("report(%d)", uint8(t))
}

// Report answers a request, or tells a maker about a change to its order.
type Report struct {
	Type    ReportType
	Request MessageType

	Err string

	// Ack and List.
	IDs []OrderID

	// Order, Quote, Trade, List and Execution.
	Direction Direction
	Order     Order

	// Quote and Trade.
	Rate      uint256.Int
	AmountIn  uint256.Int
	AmountOut uint256.Int
	Burned    uint256.Int
	Orders    uint16
	// Complete for quotes, Partial for trades, Removed for executions.
	Flag bool

	// Balance.
	Asset      Address
	Funds      uint256.Int
	Collateral ledger.Collateral

	// Execution.
	Event EventType
}

// Serialize converts the report into a frame to be sent on the wire.
func (m *Report) Serialize() ([]byte, error) {
	w := writer{buf: make([]byte, FrameHeaderLen, 128)}
	w.u8(uint8(m.Type))
	w.u16(uint16(m.Request))

	switch m.Type {
	case AckReport:
		w.u32(uint32(len(m.IDs)))
		for _, id := range m.IDs {
			w.id(id)
		}
	case ErrorReport:
		w.str(m.Err)
	case OrderReport:
		w.dir(m.Direction)
		w.id(m.Order.ID)
		w.addr(m.Order.Maker)
		w.amount(&m.Order.SrcAmount)
		w.amount(&m.Order.DstAmount)
		w.id(m.Order.PrevID)
		w.id(m.Order.NextID)
	case QuoteReport, TradeReport:
		w.dir(m.Direction)
		w.amount(&m.Rate)
		w.amount(&m.AmountIn)
		w.amount(&m.AmountOut)
		w.amount(&m.Burned)
		w.u16(m.Orders)
		w.flag(m.Flag)
	case ListReport:
		w.dir(m.Direction)
		w.u32(uint32(len(m.IDs)))
		for _, id := range m.IDs {
			w.id(id)
		}
	case BalanceReport:
		w.addr(m.Asset)
		w.amount(&m.Funds)
		w.amount(&m.Collateral.Free)
		w.amount(&m.Collateral.Bound)
		w.amount(&m.Collateral.Burned)
	case ExecutionReport:
		w.u8(uint8(m.Event))
		w.dir(m.Direction)
		w.id(m.Order.ID)
		w.amount(&m.Order.SrcAmount)
		w.amount(&m.Order.DstAmount)
		w.amount(&m.Burned)
		w.flag(m.Flag)
	default:
		return nil, ErrInvalidMessageType
	}
	return frame(w.buf)
}

// ParseReport decodes a report frame payload.
func ParseReport(msg []byte) (Report, error) {
	r := reader{buf: msg}
	m := Report{Type: ReportType(r.u8()), Request: MessageType(r.u16())}
	ids := func() []OrderID {
		n := r.u32()
		if r.err == nil && int(n)*idLen > len(r.buf) {
			r.err = ErrMessageTooShort
			return nil
		}
		out := make([]OrderID, 0, n)
		for i := uint32(0); i < n; i++ {
			out = append(out, r.id())
		}
		return out
	}

	switch m.Type {
	case AckReport:
		m.IDs = ids()
	case ErrorReport:
		m.Err = r.str()
	case OrderReport:
		m.Direction = r.dir()
		m.Order.ID = r.id()
		m.Order.Maker = r.addr()
		m.Order.SrcAmount = r.amount()
		m.Order.DstAmount = r.amount()
		m.Order.PrevID = r.id()
		m.Order.NextID = r.id()
	case QuoteReport, TradeReport:
		m.Direction = r.dir()
		m.Rate = r.amount()
		m.AmountIn = r.amount()
		m.AmountOut = r.amount()
		m.Burned = r.amount()
		m.Orders = r.u16()
		m.Flag = r.flag()
	case ListReport:
		m.Direction = r.dir()
		m.IDs = ids()
	case BalanceReport:
		m.Asset = r.addr()
		m.Funds = r.amount()
		m.Collateral.Free = r.amount()
		m.Collateral.Bound = r.amount()
		m.Collateral.Burned = r.amount()
	case ExecutionReport:
		m.Event = EventType(r.u8())
		m.Direction = r.dir()
		m.Order.ID = r.id()
		m.Order.SrcAmount = r.amount()
		m.Order.DstAmount = r.amount()
		m.Burned = r.amount()
		m.Flag = r.flag()
	default:
		if r.err == nil {
			return Report{}, ErrInvalidMessageType
		}
	}

	if err := r.done(); err != nil {
		return Report{}, fmt.Errorf("%s report: %w", m.Type, err)
	}
	return m, nil
}

func (m Report) String() string {
	switch m.Type {
	case ErrorReport:
		return fmt.Sprintf("%s: error: %s", m.Request, m.Err)
	case AckReport:
		return fmt.Sprintf("%s: ok %v", m.Request, m.IDs)
	case OrderReport:
		return fmt.Sprintf("%s: %s %s", m.Request, m.Direction, m.Order)
	case QuoteReport:
		return fmt.Sprintf("%s: %s rate=%s in=%s out=%s orders=%d complete=%t",
			m.Request, m.Direction, m.Rate.Dec(), m.AmountIn.Dec(), m.AmountOut.Dec(), m.Orders, m.Flag)
	case TradeReport:
		return fmt.Sprintf("%s: %s in=%s out=%s burned=%s orders=%d partial=%t",
			m.Request, m.Direction, m.AmountIn.Dec(), m.AmountOut.Dec(), m.Burned.Dec(), m.Orders, m.Flag)
	case ListReport:
		return fmt.Sprintf("%s: %s %v", m.Request, m.Direction, m.IDs)
	case BalanceReport:
		return fmt.Sprintf("%s: asset=%s funds=%s collateral free=%s bound=%s burned=%s",
			m.Request, m.Asset.Hex(), m.Funds.Dec(), m.Collateral.Free.Dec(), m.Collateral.Bound.Dec(), m.Collateral.Burned.Dec())
	case ExecutionReport:
		return fmt.Sprintf("%s: %s id=%d src=%s dst=%s burned=%s removed=%t",
			m.Event, m.Direction, m.Order.ID, m.Order.SrcAmount.Dec(), m.Order.DstAmount.Dec(), m.Burned.Dec(), m.Flag)
	}
	return m.Type.String()
}

// frame fills in the length prefix reserved at the start of buf.
func frame(buf []byte) ([]byte, error) {
	n := len(buf) - FrameHeaderLen
	if n > MaxFrameLen {
		return nil, ErrMessageTooLong
	}
	binary.BigEndian.PutUint32(buf[:FrameHeaderLen], uint32(n))
	return buf, nil
}

// ReadFrame reads one length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, ErrMessageTooLong
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func errorReport(request MessageType, err error) Report {
	return Report{Type: ErrorReport, Request: request, Err: err.Error()}
}

func executionReport(ev Event) Report {
	return Report{
		Type:      ExecutionReport,
		Event:     ev.Type,
		Direction: ev.Direction,
		Order:     Order{ID: ev.OrderID, Maker: ev.Maker, SrcAmount: ev.SrcAmount, DstAmount: ev.DstAmount},
		Burned:    ev.Burned,
		Flag:      ev.Removed,
	}
}
