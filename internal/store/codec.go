package store

import (
	"encoding/binary"
	"errors"

	. "obreserve/internal/common"
	"obreserve/internal/ledger"
	"obreserve/internal/orderlist"

	"github.com/holiman/uint256"
)

var ErrBadRecord = errors.New("invalid store record")

const (
	addrLen   = 20
	amountLen = 32
	idLen     = 4

	orderRecordLen   = idLen + addrLen + 2*amountLen
	accountRecordLen = 3 * amountLen
)

// Key layout:
//
//	list/<dir>/meta            perMaker, nextBlock
//	list/<dir>/order/<seq>     order, best first
//	list/<dir>/block/<seq>     maker allocation block
//	acct/<maker>               free, bound, burned collateral
//	fund/<maker><asset>        free funds
//	hold/<asset><owner>        vault balance
//	allow/<asset><owner><spender>  vault allowance
var (
	listPrefix  = []byte("list/")
	acctPrefix  = []byte("acct/")
	fundPrefix  = []byte("fund/")
	holdPrefix  = []byte("hold/")
	allowPrefix = []byte("allow/")
)

func listKey(d Direction, kind string) []byte {
	k := append([]byte{}, listPrefix...)
	k = append(k, byte(d), '/')
	return append(k, kind...)
}

func seqKey(prefix []byte, seq uint32) []byte {
	k := append([]byte{}, prefix...)
	return binary.BigEndian.AppendUint32(k, seq)
}

func acctKey(maker Address) []byte {
	return append(append([]byte{}, acctPrefix...), maker[:]...)
}

func fundKey(maker, asset Address) []byte {
	k := append(append([]byte{}, fundPrefix...), maker[:]...)
	return append(k, asset[:]...)
}

// addrKey joins prefix and addresses.
func addrKey(prefix []byte, addrs ...Address) []byte {
	k := append([]byte{}, prefix...)
	for _, a := range addrs {
		k = append(k, a[:]...)
	}
	return k
}

// splitAddrs reads n addresses following prefix in key.
func splitAddrs(key, prefix []byte, n int) ([]Address, error) {
	if len(key) != len(prefix)+n*addrLen {
		return nil, ErrBadRecord
	}
	out := make([]Address, n)
	for i := range out {
		copy(out[i][:], key[len(prefix)+i*addrLen:])
	}
	return out, nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func putAmount(buf []byte, v *uint256.Int) {
	b := v.Bytes32()
	copy(buf, b[:])
}

func getAmount(buf []byte) uint256.Int {
	var v uint256.Int
	v.SetBytes32(buf[:amountLen])
	return v
}

// binary encoding: [perMaker:4][nextBlock:4]
func encodeListMeta(s orderlist.Snapshot) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], s.PerMaker)
	binary.BigEndian.PutUint32(buf[4:8], uint32(s.NextBlock))
	return buf
}

func decodeListMeta(b []byte, s *orderlist.Snapshot) error {
	if len(b) != 8 {
		return ErrBadRecord
	}
	s.PerMaker = binary.BigEndian.Uint32(b[0:4])
	s.NextBlock = OrderID(binary.BigEndian.Uint32(b[4:8]))
	return nil
}

// binary encoding: [id:4][maker:20][src:32][dst:32]
func encodeOrder(o Order) []byte {
	buf := make([]byte, orderRecordLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(o.ID))
	copy(buf[4:24], o.Maker[:])
	putAmount(buf[24:56], &o.SrcAmount)
	putAmount(buf[56:88], &o.DstAmount)
	return buf
}

func decodeOrder(b []byte) (Order, error) {
	if len(b) != orderRecordLen {
		return Order{}, ErrBadRecord
	}
	o := Order{ID: OrderID(binary.BigEndian.Uint32(b[0:4]))}
	copy(o.Maker[:], b[4:24])
	o.SrcAmount = getAmount(b[24:56])
	o.DstAmount = getAmount(b[56:88])
	return o, nil
}

// binary encoding: [maker:20][first:4][cursor:4][free:4]*
func encodeBlock(bs orderlist.BlockSnapshot) []byte {
	buf := make([]byte, addrLen+8, addrLen+8+idLen*len(bs.Free))
	copy(buf[0:20], bs.Maker[:])
	binary.BigEndian.PutUint32(buf[20:24], uint32(bs.First))
	binary.BigEndian.PutUint32(buf[24:28], uint32(bs.Cursor))
	for _, id := range bs.Free {
		buf = binary.BigEndian.AppendUint32(buf, uint32(id))
	}
	return buf
}

func decodeBlock(b []byte) (orderlist.BlockSnapshot, error) {
	if len(b) < addrLen+8 || (len(b)-addrLen-8)%idLen != 0 {
		return orderlist.BlockSnapshot{}, ErrBadRecord
	}
	var bs orderlist.BlockSnapshot
	copy(bs.Maker[:], b[0:20])
	bs.First = OrderID(binary.BigEndian.Uint32(b[20:24]))
	bs.Cursor = OrderID(binary.BigEndian.Uint32(b[24:28]))
	bs.Free = make([]OrderID, 0, (len(b)-28)/idLen)
	for off := 28; off < len(b); off += idLen {
		bs.Free = append(bs.Free, OrderID(binary.BigEndian.Uint32(b[off:off+idLen])))
	}
	return bs, nil
}

// binary encoding: [free:32][bound:32][burned:32]
func encodeCollateral(c ledger.Collateral) []byte {
	buf := make([]byte, accountRecordLen)
	putAmount(buf[0:32], &c.Free)
	putAmount(buf[32:64], &c.Bound)
	putAmount(buf[64:96], &c.Burned)
	return buf
}

func decodeCollateral(b []byte) (ledger.Collateral, error) {
	if len(b) != accountRecordLen {
		return ledger.Collateral{}, ErrBadRecord
	}
	return ledger.Collateral{
		Free:   getAmount(b[0:32]),
		Bound:  getAmount(b[32:64]),
		Burned: getAmount(b[64:96]),
	}, nil
}
