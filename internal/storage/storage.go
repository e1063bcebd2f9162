package storage

import "voucherRelay/internal/model"

// Storage is a write-only export sink for relay output.
type Storage interface {
	PutListings(listings []model.ListingEvent) error
	PutExecution(record model.ExecutionRecord) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) PutListings([]model.ListingEvent) error   { return nil }
func (Nop) PutExecution(model.ExecutionRecord) error { return nil }

// Multi writes to every sink in order and returns the first error.
type Multi []Storage

func (m Multi) PutListings(listings []model.ListingEvent) error {
	for _, sink := range m {
		if err := sink.PutListings(listings); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) PutExecution(record model.ExecutionRecord) error {
	for _, sink := range m {
		if err := sink.PutExecution(record); err != nil {
			return err
		}
	}
	return nil
}
