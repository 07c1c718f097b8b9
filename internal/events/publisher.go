// Package events publishes committed reserve events to a Kafka topic.
package events

import (
	"encoding/json"
	"errors"

	. "obreserve/internal/common"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultQueueSize = 1024
	schemaVersion    = 1
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
	ErrQueueFull       = errors.New("publisher queue full")
)

// Record is the JSON form of an event on the wire.
type Record struct {
	V         int          `json:"v"`
	ID        uuid.UUID    `json:"id"`
	Seq       uint64       `json:"seq"`
	Type      string       `json:"type"`
	Direction string       `json:"direction,omitempty"`
	OrderID   OrderID      `json:"order_id,omitempty"`
	Maker     *Address     `json:"maker,omitempty"`
	Taker     *Address     `json:"taker,omitempty"`
	Asset     *Address     `json:"asset,omitempty"`
	SrcAmount *uint256.Int `json:"src_amount"`
	DstAmount *uint256.Int `json:"dst_amount"`
	Burned    *uint256.Int `json:"burned,omitempty"`
	Removed   bool         `json:"removed,omitempty"`
}

func addressOrNil(a Address) *Address {
	if a == (Address{}) {
		return nil
	}
	return &a
}

// NewRecord converts an event into its published form.
func NewRecord(seq uint64, e Event) Record {
	r := Record{
		V:         schemaVersion,
		ID:        uuid.New(),
		Seq:       seq,
		Type:      e.Type.String(),
		OrderID:   e.OrderID,
		Maker:     addressOrNil(e.Maker),
		Taker:     addressOrNil(e.Taker),
		Asset:     addressOrNil(e.Asset),
		SrcAmount: new(uint256.Int).Set(&e.SrcAmount),
		DstAmount: new(uint256.Int).Set(&e.DstAmount),
		Removed:   e.Removed,
	}
	switch e.Type {
	case OrderSubmitted, OrderUpdated, OrderCanceled, FullOrderTaken, PartialOrderTaken, Traded:
		r.Direction = e.Direction.String()
	}
	if !e.Burned.IsZero() {
		r.Burned = new(uint256.Int).Set(&e.Burned)
	}
	return r
}

// Key picks the partition key: the maker when there is one, otherwise the
// taker. Events of one account stay ordered within a partition.
func (r Record) Key() string {
	switch {
	case r.Maker != nil:
		return r.Maker.Hex()
	case r.Taker != nil:
		return r.Taker.Hex()
	}
	return ""
}

// Publisher is an engine reporter that forwards events to Kafka. Events are
// queued and sent by a background loop in commit order. Report never
// blocks: when the broker falls behind and the queue is full, events are
// dropped with a warning.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan Record
	seq      uint64
	t        tomb.Tomb
}

func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return cfg
}

// New connects a synchronous producer to brokers.
func New(brokers []string, topic string) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, err
	}
	return NewWithProducer(producer, topic), nil
}

// NewWithProducer starts a publisher on an existing producer, which it then
// owns.
func NewWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		queue:    make(chan Record, defaultQueueSize),
	}
	p.t.Go(p.loop)
	return p
}

// Report queues an event. Events reported after Close or while the queue
// is full are dropped.
func (p *Publisher) Report(event Event) {
	p.seq++
	record := NewRecord(p.seq, event)
	if !p.t.Alive() {
		log.Warn().Str("type", record.Type).Err(ErrPublisherClosed).Msg("dropping event")
		return
	}
	select {
	case p.queue <- record:
	default:
		log.Warn().
			Str("type", record.Type).
			Uint64("seq", record.Seq).
			Err(ErrQueueFull).
			Msg("dropping event")
	}
}

func (p *Publisher) loop() error {
	for {
		select {
		case <-p.t.Dying():
			// Drain whatever was committed before shutdown.
			for {
				select {
				case record := <-p.queue:
					p.send(record)
				default:
					return nil
				}
			}
		case record := <-p.queue:
			p.send(record)
		}
	}
}

func (p *Publisher) send(record Record) {
	payload, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Str("type", record.Type).Msg("unable to encode event")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if key := record.Key(); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("type", record.Type).
			Uint64("seq", record.Seq).
			Msg("unable to publish event")
		return
	}
	log.Debug().
		Str("type", record.Type).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	p.t.Kill(nil)
	err := p.t.Wait()
	return errors.Join(err, p.producer.Close())
}
