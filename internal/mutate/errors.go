package mutate

import "fmt"

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

type InvalidMoveError struct {
	ID       string
	ParentID string
	Reason   string
}

func (e InvalidMoveError) Error() string {
	return fmt.Sprintf("cannot move %s under %s: %s", e.ID, e.ParentID, e.Reason)
}

// ManualPositionError is returned when a caller passes an explicit position while the
// positioning config does not allow manual positioning.
type ManualPositionError struct {
	ID string
}

func (e ManualPositionError) Error() string {
	return fmt.Sprintf("explicit position for %s is not allowed; use before/after/first/last", e.ID)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
