package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/telemetry"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
)

type mockAdder struct {
	records []domdoc.Record
	ctx     context.Context
	report  *ingest.Report
	err     error
}

func (m *mockAdder) Add(ctx context.Context, records []domdoc.Record) (ingest.Report, error) {
	m.ctx = ctx
	m.records = records
	if m.report != nil {
		return *m.report, m.err
	}
	if m.err != nil {
		return ingest.Report{}, m.err
	}
	return ingest.Report{Added: len(records)}, nil
}

type published struct {
	subject string
	data    []byte
}

func newTestConsumer(a Adder) (*Consumer, *[]published) {
	c := New(a, Config{Subject: "problems.ingest", Queue: "problemdex"}, nil)
	var out []published
	c.publish = func(subject string, data []byte) error {
		out = append(out, published{subject, data})
		return nil
	}
	return c, &out
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestHandle_IndexesBatchAndReplies(t *testing.T) {
	a := &mockAdder{}
	c, out := newTestConsumer(a)

	c.handle(&nats.Msg{
		Subject: "problems.ingest",
		Reply:   "_INBOX.1",
		Data:    []byte(`[{"title":"Docker build fails"},{"title":"Slow query"}]`),
	})

	if len(a.records) != 2 || a.records[1].Title != "Slow query" {
		t.Fatalf("records = %+v", a.records)
	}
	if len(*out) != 1 || (*out)[0].subject != "_INBOX.1" {
		t.Fatalf("replies = %+v", *out)
	}
	var ack Ack
	if err := json.Unmarshal((*out)[0].data, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Received != 2 || ack.Added != 2 || ack.Error != "" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestHandle_SingleObject(t *testing.T) {
	a := &mockAdder{}
	c, out := newTestConsumer(a)

	c.handle(&nats.Msg{Subject: "problems.ingest", Data: []byte(`{"title":"one"}`)})

	if len(a.records) != 1 {
		t.Fatalf("records = %+v", a.records)
	}
	if len(*out) != 0 {
		t.Error("fire-and-forget message should not get a reply")
	}
}

func TestHandle_Malformed(t *testing.T) {
	a := &mockAdder{}
	c, out := newTestConsumer(a)

	c.handle(&nats.Msg{Subject: "problems.ingest", Reply: "_INBOX.2", Data: []byte(`{invalid`)})

	if a.records != nil {
		t.Fatal("adder should not be called for malformed payloads")
	}
	var ack Ack
	if err := json.Unmarshal((*out)[0].data, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Error == "" {
		t.Error("expected decode error in ack")
	}
}

func TestHandle_PartialFailure(t *testing.T) {
	a := &mockAdder{report: &ingest.Report{
		Added: 2,
		Chunks: []ingest.ChunkResult{
			{Offset: 0, Size: 2, Added: 2},
			{Offset: 2, Size: 1, Err: domain.ErrInvalidDocument},
		},
	}}
	c, _ := newTestConsumer(a)

	ack := c.process(context.Background(), []byte(`[{"title":"a"},{"title":"b"},{"title":""}]`))
	if ack.Added != 2 || ack.Failed != 1 || ack.Received != 3 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestHandle_StoreError(t *testing.T) {
	a := &mockAdder{err: errors.New("store down")}
	c, _ := newTestConsumer(a)

	ack := c.process(context.Background(), []byte(`[{"title":"a"}]`))
	if ack.Error != "store down" || ack.Added != 0 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestHandle_StoreErrorKeepsPartialCount(t *testing.T) {
	a := &mockAdder{
		err: domain.ErrStoreUnavailable,
		report: &ingest.Report{
			Added: 2,
			Chunks: []ingest.ChunkResult{
				{Offset: 0, Size: 2, Added: 2},
				{Offset: 2, Size: 1, Err: domain.ErrStoreUnavailable},
			},
		},
	}
	c, out := newTestConsumer(a)

	c.handle(&nats.Msg{
		Subject: "problems.ingest",
		Reply:   "_INBOX.2",
		Data:    []byte(`[{"title":"a"},{"title":"b"},{"title":"c"}]`),
	})

	if len(*out) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(*out))
	}
	var ack Ack
	if err := json.Unmarshal((*out)[0].data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Error == "" || ack.Added != 2 || ack.Received != 3 {
		t.Errorf("ack = %+v, want error with 2 added of 3", ack)
	}
}

func TestHandle_ExtractsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	telemetry.Setup()
	defer otel.SetTextMapPropagator(prev)

	a := &mockAdder{}
	c, _ := newTestConsumer(a)

	msg := &nats.Msg{Subject: "problems.ingest", Data: []byte(`[{"title":"a"}]`)}
	msg.Header = nats.Header{}
	msg.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	msg.Header.Set("baggage", "source=reddit")
	c.handle(msg)

	if a.ctx == nil {
		t.Fatal("adder not called")
	}
	if _, ok := a.ctx.Deadline(); !ok {
		t.Error("handler context should carry a deadline")
	}
	if got := baggage.FromContext(a.ctx).Member("source").Value(); got != "reddit" {
		t.Errorf("baggage source = %q, want reddit", got)
	}
	if got := trace.SpanContextFromContext(a.ctx).TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %q", got)
	}
}

func TestStart_RequiresSubject(t *testing.T) {
	c := New(&mockAdder{}, Config{}, nil)
	if err := c.Start(nil); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
