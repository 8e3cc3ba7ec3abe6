package newsletter

import "fmt"

// ValidationError indicates malformed input. Surfaced immediately, never
// retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a missing story, organization, template, theme or
// campaign.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError creates a NotFoundError for the given entity and id.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// NoRecipientsError indicates the post-filter recipient set for a scope is
// empty. Fatal to the creation attempt, not to the system. The message
// differs by scope.
type NoRecipientsError struct {
	Scope string
}

func (e *NoRecipientsError) Error() string {
	if e.Scope == ScopeOrganizational {
		return "no active subscribers found across the organization's stories"
	}
	return "no active subscribers found for this story"
}

// UnsupportedBlockTypeError indicates a block kind outside the closed set.
type UnsupportedBlockTypeError struct {
	Kind BlockKind
}

func (e *UnsupportedBlockTypeError) Error() string {
	return fmt.Sprintf("unsupported block type %q", string(e.Kind))
}

// UnresolvedTokenError indicates personalization left a token behind. This
// is an invariant violation, not a best-effort warning.
type UnresolvedTokenError struct {
	Token string
}

func (e *UnresolvedTokenError) Error() string {
	return fmt.Sprintf("unresolved token %q after personalization", e.Token)
}
