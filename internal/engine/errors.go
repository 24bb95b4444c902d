package engine

import (
	"errors"
	"fmt"

	"guardrails/internal/domain"
	"guardrails/internal/repo"
)

// ErrNotFound is returned, wrapped, for unknown ids.
var ErrNotFound = repo.ErrNotFound

// InvalidPayloadError reports a missing or malformed caller field.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AlreadyDecidedError is returned when a decision targets a request that has
// left pending. Status is the terminal status it holds.
type AlreadyDecidedError struct {
	ID        string
	Status    domain.ValidationStatus
	DecidedAt string
}

func (e AlreadyDecidedError) Error() string {
	return fmt.Sprintf("validation %s already decided: status %s", e.ID, e.Status)
}

func IsInvalidPayload(err error) bool {
	var ip InvalidPayloadError
	return errors.As(err, &ip)
}

func IsAlreadyDecided(err error) bool {
	var ad AlreadyDecidedError
	return errors.As(err, &ad)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}
