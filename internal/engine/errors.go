package engine

import (
	"errors"
	"fmt"
)

// Errors returned by engine operations. These are stable kinds; callers map
// them to transport codes and localized messages.
var (
	ErrInvalidInput = errors.New("invalid input")

	ErrAuctionNotFound = errors.New("auction not found")
	ErrLotNotFound     = errors.New("lot not found")
	ErrTeamNotFound    = errors.New("team not found")

	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrAuctionNotRunning = errors.New("auction is not running")
	ErrLotNotActive      = errors.New("lot is not active")
	ErrLotClosed         = errors.New("lot bidding has closed")

	ErrBelowIncrement     = errors.New("bid is below the minimum increment")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrSquadFull          = errors.New("squad is full")
	ErrRosterConstraint   = errors.New("bid violates roster constraints")
	ErrAlreadyLeading     = errors.New("team is already the highest bidder")

	ErrConflict    = errors.New("serialization conflict")
	ErrUnavailable = errors.New("persistence unavailable")
)

// BelowIncrementError reports the minimum admissible next bid.
type BelowIncrementError struct {
	MinNext int64
}

func (e *BelowIncrementError) Error() string {
	return fmt.Sprintf("bid is below the minimum increment (minimum next bid %d)", e.MinNext)
}

// Is makes errors.Is(err, ErrBelowIncrement) match.
func (e *BelowIncrementError) Is(target error) bool { return target == ErrBelowIncrement }

// InsufficientBudgetError reports the budget remaining to the team.
type InsufficientBudgetError struct {
	Remaining int64
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget (remaining %d)", e.Remaining)
}

// Is makes errors.Is(err, ErrInsufficientBudget) match.
func (e *InsufficientBudgetError) Is(target error) bool { return target == ErrInsufficientBudget }
