// Package repository defines where wheel rosters and winner ledgers live.
package repository

import (
	"context"
	"errors"
	"time"

	"spinwheel/internal/wheel"
)

var (
	// ErrNotFound means nothing has been stored for the wheel yet.
	ErrNotFound = errors.New("wheel not found in storage")
	// ErrStaleStock means the prize had no stock left when the award was committed.
	ErrStaleStock = errors.New("prize stock already exhausted")
	// ErrUnknownPrize means the prize id is not on the stored roster.
	ErrUnknownPrize = errors.New("prize not on roster")
)

// Winner identifies who gets an award.
type Winner struct {
	ID   string
	Name string
}

// Repository persists the roster and winners ledger of every wheel.
//
// Award re-reads the stored stock, and only when it is still positive
// decrements it and appends the record, as one atomic step. The record's
// prize is the snapshot taken before the decrement.
type Repository interface {
	Roster(ctx context.Context, wheelID string) ([]wheel.Prize, error)
	// Winners returns the ledger newest first.
	Winners(ctx context.Context, wheelID string) ([]wheel.WinnerRecord, error)
	Award(ctx context.Context, wheelID string, prizeID int, winner Winner, at time.Time) (wheel.WinnerRecord, error)
	// Reset replaces the roster with initial and clears the ledger.
	Reset(ctx context.Context, wheelID string, initial []wheel.Prize) error
	Close() error
}

// Seed stores initial for wheelID unless a roster is already stored.
func Seed(ctx context.Context, repo Repository, wheelID string, initial []wheel.Prize) error {
	_, err := repo.Roster(ctx, wheelID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return repo.Reset(ctx, wheelID, initial)
}
