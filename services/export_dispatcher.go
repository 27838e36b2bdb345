package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

// ExportRecord is one ordered unit: a line with quantity 3 yields three
// records.
type ExportRecord struct {
	OrderID     uint      `json:"order_id"`
	OrderSeq    uint      `json:"order_seq"`
	TableID     uint      `json:"table_id"`
	TableLabel  string    `json:"table_label"`
	PayerName   string    `json:"payer_name,omitempty"`
	ProductID   uint      `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   float64   `json:"unit_price"`
	Unit        int       `json:"unit"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecords expands an order payload into per-unit records.
func ExportRecords(p ExportPayload) []ExportRecord {
	var out []ExportRecord
	for _, l := range p.Lines {
		for unit := 1; unit <= l.Quantity; unit++ {
			out = append(out, ExportRecord{
				OrderID:     p.OrderID,
				OrderSeq:    p.Seq,
				TableID:     p.TableID,
				TableLabel:  p.TableLabel,
				PayerName:   p.PayerName,
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				UnitPrice:   l.UnitPrice,
				Unit:        unit,
				Status:      p.Status,
				CreatedAt:   p.CreatedAt,
			})
		}
	}
	return out
}

// ExportSink receives committed orders for an external system.
type ExportSink interface {
	Send(ctx context.Context, records []ExportRecord) error
	Close() error
}

// KafkaSink publishes export records to a Kafka topic. Without brokers it
// runs in mock mode and only logs what it would send.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	mockMode bool
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		utils.InfoLogger.WithField("topic", topic).Info("export sink in mock mode, no Kafka brokers configured")
		return &KafkaSink{topic: topic, mockMode: true}, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	utils.InfoLogger.WithFields(logrus.Fields{"brokers": brokers, "topic": topic}).Info("export sink connected to Kafka")
	return NewKafkaSinkWithProducer(producer, topic), nil
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Send(_ context.Context, records []ExportRecord) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal export record: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(fmt.Sprintf("order-%d", rec.OrderID)),
			Value: sarama.ByteEncoder(data),
		})
	}

	if k.mockMode {
		for _, m := range msgs {
			utils.InfoLogger.WithFields(logrus.Fields{"topic": k.topic, "key": m.Key}).Debug("mock export")
		}
		return nil
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("send export messages: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if k.mockMode || k.producer == nil {
		return nil
	}
	return k.producer.Close()
}

// ExportDispatcher hands committed orders to the sink on a background
// goroutine so request handling never waits on the external system.
type ExportDispatcher struct {
	sink     ExportSink
	queue    chan ExportPayload
	metrics  *metrics.Metrics
	attempts int
	backoff  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewExportDispatcher(sink ExportSink, buffer int, m *metrics.Metrics) *ExportDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ExportDispatcher{
		sink:     sink,
		queue:    make(chan ExportPayload, buffer),
		metrics:  m,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// Enqueue schedules a payload for export. Only dine-in orders are exported;
// when the queue is full the payload is dropped and logged.
func (d *ExportDispatcher) Enqueue(p ExportPayload) bool {
	if p.Type != models.OrderTypeDineIn {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- p:
		return true
	default:
		d.count("dropped")
		utils.ErrorLogger.WithField("order_id", p.OrderID).Warn("export queue full, dropping order")
		return false
	}
}

// Start launches the worker. Stop drains the queue and waits for it.
func (d *ExportDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for p := range d.queue {
			d.export(ctx, p)
		}
	}()
	utils.InfoLogger.Println("export dispatcher started")
}

func (d *ExportDispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if err := d.sink.Close(); err != nil {
		utils.ErrorLogger.WithError(err).Error("close export sink")
	}
}

func (d *ExportDispatcher) export(ctx context.Context, p ExportPayload) {
	records := ExportRecords(p)
	if len(records) == 0 {
		return
	}

	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = d.sink.Send(ctx, records); err == nil {
			d.count("ok")
			return
		}
		utils.ErrorLogger.WithFields(logrus.Fields{
			"order_id": p.OrderID,
			"attempt":  attempt,
			"error":    err,
		}).Warn("export attempt failed")

		select {
		case <-ctx.Done():
			d.count("failed")
			return
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	d.count("failed")
	utils.ErrorLogger.WithError(err).WithField("order_id", p.OrderID).Error("export gave up")
}

func (d *ExportDispatcher) count(result string) {
	if d.metrics != nil {
		d.metrics.ExportsSent.WithLabelValues(result).Inc()
	}
}
