package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/receipt-report-service/internal/email"
	"github.com/unclebandit/receipt-report-service/internal/model"
	"github.com/unclebandit/receipt-report-service/internal/queue"
	"github.com/unclebandit/receipt-report-service/internal/report"
)

var fixedNow = func() time.Time { return time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC) }

// fakeAck records how a delivery was settled.
type fakeAck struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	rejects  int
	requeued bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	a.requeued = requeue
	return nil
}

func (a *fakeAck) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks + a.nacks + a.rejects
}

func newDelivery(ack amqp.Acknowledger, body []byte, retryCount int) amqp.Delivery {
	headers := amqp.Table{}
	if retryCount > 0 {
		headers = queue.WithRetryCount(nil, retryCount)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		Headers:      headers,
		ContentType:  "application/json",
		MessageId:    "msg-1",
		DeliveryTag:  1,
		Body:         body,
	}
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (p *recordingPublisher) to(exchange string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.exchange == exchange {
			out = append(out, m)
		}
	}
	return out
}

type fakeProperties struct {
	mu          sync.Mutex
	properties  []model.Property
	allocations map[int64][]model.Allocation
	listErr     error
	listCalls   int
}

func (f *fakeProperties) ListAll(ctx context.Context) ([]model.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Property(nil), f.properties...), nil
}

func (f *fakeProperties) ListAllocations(ctx context.Context, propertyID int64) ([]model.Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Allocation(nil), f.allocations[propertyID]...), nil
}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []*email.Message
	attempts int
	failWith func(attempt int, msg *email.Message) error
}

func (m *fakeMailer) Send(ctx context.Context, msg *email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failWith != nil {
		if err := m.failWith(m.attempts, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

// reports returns delivered messages that carry an attachment.
func (m *fakeMailer) reports() []*email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*email.Message
	for _, msg := range m.sent {
		if len(msg.Attachments) > 0 {
			out = append(out, msg)
		}
	}
	return out
}

// notices returns delivered error notifications.
func (m *fakeMailer) notices() []*email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*email.Message
	for _, msg := range m.sent {
		if len(msg.Attachments) == 0 {
			out = append(out, msg)
		}
	}
	return out
}

var errSMTPDown = errors.New("dial tcp 10.0.0.5:25: connection refused")

// failReports fails every report email but lets notifications through.
func failReports(attempt int, msg *email.Message) error {
	if len(msg.Attachments) > 0 {
		return errSMTPDown
	}
	return nil
}

// flakyGenerator fails its first failures calls, or every call when
// failures is negative. With panics set a failing call panics instead of
// returning an error.
type flakyGenerator struct {
	report.Generator
	mu       sync.Mutex
	failures int
	panics   bool
	calls    int
}

func (g *flakyGenerator) Generate(property *model.Property, year int, items []model.Allocation) ([]byte, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if g.failures < 0 || n <= g.failures {
		if g.panics {
			panic(fmt.Sprintf("font table missing on attempt %d", n))
		}
		return nil, fmt.Errorf("render failed on attempt %d", n)
	}
	return g.Generator.Generate(property, year, items)
}

func (g *flakyGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type staticResolver struct {
	g report.Generator
}

func (r staticResolver) ForType(t model.ReportType) (report.Generator, error) {
	return r.g, nil
}

func mainBuildingFixture() *fakeProperties {
	return &fakeProperties{
		properties: []model.Property{
			{ID: 1, Name: "Main Building", StreetNumber: "123", StreetName: "Main Street", City: "Boston", State: "MA", ZipCode: "02101"},
			{ID: 2, Name: "Harbor View", StreetNumber: "9", StreetName: "Pier Road", City: "Salem", State: "MA", ZipCode: "01970"},
		},
		allocations: map[int64][]model.Allocation{
			1: {
				{ReceiptID: 11, Description: "Roof repair", Amount: 400, Portion: 200, ReceiptDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Year: 2024},
				{ReceiptID: 12, Description: "Plumbing, \"emergency\"", Amount: 300, Portion: 150, ReceiptDate: time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), Year: 2024},
				{ReceiptID: 13, Description: "Landscaping", Amount: 250, Portion: 250, ReceiptDate: time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC), Year: 2024},
				{ReceiptID: 9, Description: "Old invoice", Amount: 100, Portion: 100, ReceiptDate: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), Year: 2023},
			},
		},
	}
}
