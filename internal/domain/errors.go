package domain

import "errors"

var (
	// ErrNotFound is returned when a node, edge or interaction does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a reflection run is
	// requested from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCollaboratorTimeout wraps deadline failures from the LLM or
	// embedding collaborator.
	ErrCollaboratorTimeout = errors.New("collaborator timeout")

	// ErrCollaboratorMalformed is returned when a collaborator reply
	// cannot be decoded into the expected shape.
	ErrCollaboratorMalformed = errors.New("collaborator returned malformed output")

	// ErrPersistenceFailure wraps snapshot and journal write failures.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrIntegrity is returned when a graph invariant would be
	// violated, such as an edge referencing a missing node.
	ErrIntegrity = errors.New("integrity violation")
)
