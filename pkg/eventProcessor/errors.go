package eventProcessor

import (
	"errors"
	"fmt"

	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/events"
)

var ErrInvalidTransition = errors.New("invalid event processor state transition")

// EffectFailure is surfaced to the handler that made the call. It is recoverable.
type EffectFailure = effects.EffectFailure

// HandlerFailure fails only the current event.
type HandlerFailure struct {
	Coordinates events.Coordinates
	Phase       string
	Err         error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("%s phase failed for event %s: %v", e.Phase, e.Coordinates, e.Err)
}

func (e *HandlerFailure) Unwrap() error {
	return e.Err
}

// ReorgInvalidation marks an event whose block was invalidated while it was in flight.
type ReorgInvalidation struct {
	Coordinates events.Coordinates
	Reorg       *events.Reorg
}

func (e *ReorgInvalidation) Error() string {
	return fmt.Sprintf("event %s invalidated by reorg of chain %d from block %d", e.Coordinates, e.Reorg.ChainId, e.Reorg.FromBlock)
}

// StoreFailure is a persistence failure during commit. It halts the pipeline.
type StoreFailure struct {
	Coordinates events.Coordinates
	Err         error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("failed to commit event %s: %v", e.Coordinates, e.Err)
}

func (e *StoreFailure) Unwrap() error {
	return e.Err
}

func IsFatal(err error) bool {
	var storeFailure *StoreFailure
	return errors.As(err, &storeFailure)
}

// IsRecoverable reports whether err only fails the current event.
func IsRecoverable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var handlerFailure *HandlerFailure
	var effectFailure *EffectFailure
	return errors.As(err, &handlerFailure) || errors.As(err, &effectFailure)
}

func IsReorgInvalidation(err error) bool {
	var invalidation *ReorgInvalidation
	return errors.As(err, &invalidation)
}
