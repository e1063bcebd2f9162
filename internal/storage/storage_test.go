package storage

import (
	"errors"
	"testing"

	"voucherRelay/internal/model"
)

type countingSink struct {
	listings   int
	executions int
	err        error
}

func (c *countingSink) PutListings(listings []model.ListingEvent) error {
	c.listings += len(listings)
	return c.err
}

func (c *countingSink) PutExecution(model.ExecutionRecord) error {
	c.executions++
	return c.err
}

func TestMultiFansOut(t *testing.T) {
	first := &countingSink{}
	second := &countingSink{}
	sink := Multi{first, Nop{}, second}

	if err := sink.PutListings(make([]model.ListingEvent, 2)); err != nil {
		t.Fatalf("put listings: %v", err)
	}
	if err := sink.PutExecution(model.ExecutionRecord{State: "EXECUTED"}); err != nil {
		t.Fatalf("put execution: %v", err)
	}
	if first.listings != 2 || second.listings != 2 {
		t.Fatalf("listings not fanned out: %d %d", first.listings, second.listings)
	}
	if first.executions != 1 || second.executions != 1 {
		t.Fatalf("executions not fanned out: %d %d", first.executions, second.executions)
	}
}

func TestMultiStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	failing := &countingSink{err: boom}
	after := &countingSink{}

	err := Multi{failing, after}.PutExecution(model.ExecutionRecord{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if after.executions != 0 {
		t.Fatalf("sink after failure should not be called")
	}
}
