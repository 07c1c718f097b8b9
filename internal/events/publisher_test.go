package events

import (
	"encoding/json"
	"errors"
	"testing"

	. "obreserve/internal/common"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers ---

var (
	maker = HexToAddress("0x00000000000000000000000000000000000000aa")
	taker = HexToAddress("0x00000000000000000000000000000000000000bb")
)

// decode runs inside the producer loop, so it reports errors rather than
// failing the test directly.
func decode(val []byte) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(val, &out)
	return out, err
}

// --- Tests ---

func TestNewRecord(t *testing.T) {
	ev := Event{
		Type:      PartialOrderTaken,
		Direction: TokenToEth,
		OrderID:   7,
		Maker:     maker,
		SrcAmount: *uint256.NewInt(100),
		DstAmount: *uint256.NewInt(50),
		Burned:    *uint256.NewInt(3),
	}

	r := NewRecord(4, ev)
	assert.Equal(t, "partial_order_taken", r.Type)
	assert.Equal(t, TokenToEth.String(), r.Direction)
	assert.Equal(t, uint64(4), r.Seq)
	assert.Nil(t, r.Taker)
	assert.Nil(t, r.Asset)
	require.NotNil(t, r.Burned)
	assert.Equal(t, uint64(3), r.Burned.Uint64())
	assert.Equal(t, maker.Hex(), r.Key())

	// Balance events carry no direction.
	r = NewRecord(5, Event{Type: FundsDeposited, Maker: maker, Asset: taker})
	assert.Empty(t, r.Direction)
	assert.Nil(t, r.Burned)
}

func TestRecord_KeyFallsBackToTaker(t *testing.T) {
	r := NewRecord(1, Event{Type: Traded, Taker: taker})
	assert.Equal(t, taker.Hex(), r.Key())

	r = NewRecord(1, Event{Type: Traded})
	assert.Empty(t, r.Key())
}

func TestPublisher_SendsInOrder(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())

	var seen []string
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			out, err := decode(val)
			if err != nil {
				return err
			}
			seen = append(seen, out["type"].(string))
			return nil
		})
	}

	p := NewWithProducer(producer, "reserve-events")

	// 1. Report a submit, a trade and a cancel.
	p.Report(Event{Type: OrderSubmitted, Maker: maker, OrderID: 3, SrcAmount: *uint256.NewInt(10)})
	p.Report(Event{Type: Traded, Taker: taker, SrcAmount: *uint256.NewInt(1), DstAmount: *uint256.NewInt(2)})
	p.Report(Event{Type: OrderCanceled, Maker: maker, OrderID: 3})

	// 2. Close flushes the queue; the mock verifies every expectation was used.
	require.NoError(t, p.Close())
	assert.Equal(t, []string{"order_submitted", "trade", "order_canceled"}, seen)
}

func TestPublisher_AmountsAreDecimalStrings(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != maker.Hex() {
			return errors.New("unexpected key " + string(key))
		}
		val, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		out, err := decode(val)
		if err != nil {
			return err
		}
		if out["src_amount"] != "2000000000000000000" {
			return errors.New("unexpected src amount")
		}
		return nil
	})

	p := NewWithProducer(producer, "reserve-events")
	p.Report(Event{Type: FundsDeposited, Maker: maker, SrcAmount: Ether(2)})
	require.NoError(t, p.Close())
}

func TestPublisher_SendFailureDoesNotStopLoop(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	p := NewWithProducer(producer, "reserve-events")
	p.Report(Event{Type: OrderSubmitted, Maker: maker})
	p.Report(Event{Type: OrderSubmitted, Maker: maker})
	require.NoError(t, p.Close())
}

func TestPublisher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		out, err := decode(val)
		if err != nil {
			return err
		}
		if out["seq"] != float64(1) {
			return errors.New("expected the first event to be sent")
		}
		return nil
	})

	// 1. No loop is draining yet, so the second report finds the queue full.
	p := &Publisher{producer: producer, topic: "reserve-events", queue: make(chan Record, 1)}
	p.Report(Event{Type: OrderSubmitted, Maker: maker})
	p.Report(Event{Type: OrderSubmitted, Maker: maker})
	assert.Len(t, p.queue, 1)

	// 2. Only the queued event reaches the broker.
	p.t.Go(p.loop)
	require.NoError(t, p.Close())
}
