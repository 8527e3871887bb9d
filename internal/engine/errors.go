package engine

import "fmt"

// NotFoundError identifies a missing referenced record.
type NotFoundError struct {
	Kind string
	UID  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.UID)
}

// DuplicateLevelError rejects a level that collides with an existing one on
// org unit level and category option group set.
type DuplicateLevelError struct {
	OrgUnitLevel int
	ExistingUID  string
}

func (e DuplicateLevelError) Error() string {
	return fmt.Sprintf("approval level for org unit level %d already exists (%s)", e.OrgUnitLevel, e.ExistingUID)
}

// ForbiddenError rejects an action the caller lacks permission for.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s forbidden: %s", e.Action, e.Reason)
}

// ConflictError rejects an action invalid in the current approval state.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// InvariantError reports internal corruption, such as a non-dense level
// registry. It is logged before being surfaced.
type InvariantError struct {
	Reason string
}

func (e InvariantError) Error() string {
	return "invariant violated: " + e.Reason
}
