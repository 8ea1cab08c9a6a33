package service

import (
	"time"

	"gigsync-server/internal/domain"
	"gigsync-server/pkg/vclock"
)

// Resolver decides how an incoming mutation lands against a record's
// current state. It is a pure function of its inputs so outcomes are
// deterministic and replayable.
type Resolver struct {
	policy domain.ConflictPolicy
}

func NewResolver(policy domain.ConflictPolicy) *Resolver {
	switch policy {
	case domain.PolicyLastWriteWins, domain.PolicyServerWins, domain.PolicyClientWins:
	default:
		policy = domain.PolicyLastWriteWins
	}
	return &Resolver{policy: policy}
}

func (r *Resolver) Policy() domain.ConflictPolicy {
	return r.policy
}

// Decision is the resolver's verdict for one mutation.
type Decision struct {
	Status domain.ChangeStatus

	// IncomingWins reports whether the incoming value becomes current.
	// Meaningful for applied and conflict-resolved outcomes.
	IncomingWins bool

	// Incoming is the effective incoming vector (synthesized for
	// vector-unaware clients).
	Incoming vclock.Vector

	// Merged is the vector the record must carry after the commit; nil
	// when the store is left untouched (duplicates and stale writes).
	Merged vclock.Vector

	// Resolution is set for conflict-resolved outcomes only.
	Resolution *domain.Resolution
}

// Resolve compares the incoming mutation's causal knowledge against the
// current record. changedAt is the mutation's wall-clock timestamp used
// for last-write-wins ordering.
func (r *Resolver) Resolve(current *domain.Record, incoming *domain.PushChange, deviceID string, changedAt time.Time) Decision {
	var currentVector vclock.Vector
	if current != nil {
		currentVector = current.VersionVector
	}

	incomingVector := incoming.VersionVector
	if len(incomingVector) == 0 {
		// Vector-unaware client: the write supersedes whatever the
		// device last saw, attributed to its own coordinate.
		incomingVector = currentVector.Tick(deviceID)
	}

	switch vclock.Compare(incomingVector, currentVector) {
	case vclock.Equal:
		// Idempotent replay of a write the server already holds.
		return Decision{Status: domain.StatusDuplicate, Incoming: incomingVector}

	case vclock.Dominated:
		// The store has already seen past this write; the device
		// reconciles on its next pull.
		return Decision{Status: domain.StatusStale, Incoming: incomingVector}

	case vclock.Dominates:
		return Decision{
			Status:       domain.StatusApplied,
			IncomingWins: true,
			Incoming:     incomingVector,
			Merged:       mergeAdvanced(currentVector, incomingVector, deviceID),
		}
	}

	// Concurrent: a true conflict. The policy picks the winner; the
	// merged vector keeps both sides' causal history either way.
	incomingWins := r.incomingWins(current, incoming, deviceID, changedAt)

	resolution := &domain.Resolution{Policy: r.policy}
	if incomingWins {
		resolution.WinnerDevice = deviceID
		if current != nil {
			resolution.LosingData = current.Payload
		}
	} else {
		resolution.WinnerDevice = current.LastDevice
		resolution.LosingData = incoming.Data
	}

	return Decision{
		Status:       domain.StatusConflict,
		IncomingWins: incomingWins,
		Incoming:     incomingVector,
		Merged:       mergeAdvanced(currentVector, incomingVector, deviceID),
		Resolution:   resolution,
	}
}

func (r *Resolver) incomingWins(current *domain.Record, incoming *domain.PushChange, deviceID string, changedAt time.Time) bool {
	switch r.policy {
	case domain.PolicyServerWins:
		return false
	case domain.PolicyClientWins:
		return true
	}

	// Last-write-wins on the wall-clock change timestamp, ties broken
	// by device id so the outcome is deterministic everywhere.
	if changedAt.After(current.LastModified) {
		return true
	}
	if changedAt.Before(current.LastModified) {
		return false
	}
	return deviceID > current.LastDevice
}

// mergeAdvanced joins both vectors and guarantees the accepting device's
// coordinate actually advanced, so the result dominates the previous
// state and a re-delivery of the same write reads as a duplicate.
func mergeAdvanced(current, incoming vclock.Vector, deviceID string) vclock.Vector {
	merged := vclock.Merge(current, incoming)
	if merged.Counter(deviceID) <= current.Counter(deviceID) {
		merged = merged.Tick(deviceID)
	}
	return merged
}
