package service

import (
	"context"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

// SequencePosition is everything a new receipt needs from the sequencing
// step: its numbers, the day it belongs to, and the chain link.
type SequencePosition struct {
	GlobalNo int64
	Counter  int
	Day      *model.FiscalDay
	// PreviousHash links to the device's globally previous receipt,
	// "" for the first receipt in the device's lifetime.
	PreviousHash string
}

// Sequencer hands out receipt numbers. The position is read-only: the
// GlobalNo it proposes is only claimed when the receipt is persisted, with
// a compare-and-swap on the device row inside the same transaction as the
// insert, so two replicas can never commit the same number and a failed
// insert leaves the sequence untouched. Callers already hold the
// per-device lock; the CAS is the second line of defense.
type Sequencer struct {
	days     repository.FiscalDayRepository
	receipts repository.ReceiptRepository
}

func NewSequencer(
	days repository.FiscalDayRepository,
	receipts repository.ReceiptRepository,
) *Sequencer {
	return &Sequencer{days: days, receipts: receipts}
}

// Next computes the next sequence position for dev from its current
// high-water mark. Returns *fiscal.NoOpenFiscalDayError when the device
// has no open day. A concurrent writer that claims the proposed number
// first surfaces later, at persist time, as a
// *fiscal.SequencingConflictError; the caller retries the whole operation
// from a fresh device read.
func (s *Sequencer) Next(ctx context.Context, dev *model.Device) (*SequencePosition, error) {
	day, err := s.days.FindOpen(ctx, dev.ID)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, &fiscal.NoOpenFiscalDayError{FiscalDeviceID: dev.FiscalDeviceID}
	}

	count, err := s.receipts.CountForDay(ctx, dev.ID, day.Number)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	latest, err := s.receipts.FindLatest(ctx, dev.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		prevHash = latest.Hash
	}

	return &SequencePosition{
		GlobalNo:     dev.LastReceiptGlobalNo + 1,
		Counter:      int(count) + 1,
		Day:          day,
		PreviousHash: prevHash,
	}, nil
}
