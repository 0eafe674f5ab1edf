package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfOrder matches every OutOfOrderError
	ErrOutOfOrder = errors.New("verification level out of order")
	// ErrCorruptSession marks a session that breaks progress invariants
	ErrCorruptSession = errors.New("corrupt session")
	// ErrUnsupportedLanguage is returned for unknown locale codes
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrNoActiveVerification is returned when there is nothing to check
	ErrNoActiveVerification = errors.New("no active verification")
	// ErrNotEligible is returned when a user may not mint an SBT yet
	ErrNotEligible = errors.New("not eligible for sbt mint")
	// ErrAlreadyMinted is returned when the SBT has already been minted
	ErrAlreadyMinted = errors.New("sbt already minted")
	// ErrNoMintRequest is returned when there is no mint to check
	ErrNoMintRequest = errors.New("no mint request")
	// ErrMintInFlight is returned while another mint request is being posted
	ErrMintInFlight = errors.New("sbt mint request in flight")
	// ErrGroupNotFound is returned for chats missing from the group registry
	ErrGroupNotFound = errors.New("group not found")
)

// OutOfOrderError is returned when a level is started or completed
// while it is not the user's current level
type OutOfOrderError struct {
	Level   int
	Current int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("level %d is not available, current level is %d", e.Level, e.Current)
}

// Is lets errors.Is(err, ErrOutOfOrder) match
func (e *OutOfOrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}
