// Package schedule evaluates track timing rules: creation windows, due
// dates, and repeating triggers.
package schedule

import (
	"fmt"
	"time"

	"appraise/internal/domain"
)

// ParseTime parses an RFC3339 timestamp.
func ParseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

// FormatTime renders a timestamp the way it is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ApplyOffset advances a reference instant by the offset.
func ApplyOffset(o domain.DateOffset, ref time.Time) time.Time {
	switch o.Unit {
	case domain.UnitDay:
		return ref.AddDate(0, 0, o.Count)
	case domain.UnitWeek:
		return ref.AddDate(0, 0, 7*o.Count)
	case domain.UnitMonth:
		return ref.AddDate(0, o.Count, 0)
	}
	return ref
}

// WindowOpen reports whether instance creation is allowed at now. An end
// bound without a start bound is an invalid window and never opens.
func WindowOpen(from, to *string, now time.Time) (bool, error) {
	if from == nil && to == nil {
		return true, nil
	}
	if from == nil {
		return false, nil
	}
	start, err := ParseTime(*from)
	if err != nil {
		return false, err
	}
	if now.Before(start) {
		return false, nil
	}
	if to == nil {
		return true, nil
	}
	end, err := ParseTime(*to)
	if err != nil {
		return false, err
	}
	return !now.After(end), nil
}

// DueDate resolves the due date for an instance created at creation. A nil
// result means the track has no due date.
func DueDate(t domain.Track, creation time.Time) (*string, error) {
	switch t.DueDateMode {
	case domain.DueDateDisabled, "":
		return nil, nil
	case domain.DueDateFixed:
		if t.DueDateFixed == nil {
			return nil, fmt.Errorf("track %s: fixed due date not set", t.ID)
		}
		v := *t.DueDateFixed
		return &v, nil
	case domain.DueDateRelative:
		if t.DueDateOffset == nil {
			return nil, fmt.Errorf("track %s: relative due date offset not set", t.ID)
		}
		v := FormatTime(ApplyOffset(*t.DueDateOffset, creation))
		return &v, nil
	}
	return nil, fmt.Errorf("track %s: unknown due date mode %q", t.ID, t.DueDateMode)
}

// Reference holds the instants of the most recent instance that repeating
// conditions are evaluated against.
type Reference struct {
	CreatedAt   time.Time
	CompletedAt *time.Time
	HasClosed   bool
	ClosedAt    time.Time
}

// NewReference extracts trigger reference instants from an instance.
func NewReference(si domain.SubjectInstance) (Reference, error) {
	var ref Reference
	created, err := ParseTime(si.CreatedAt)
	if err != nil {
		return ref, err
	}
	ref.CreatedAt = created
	if si.CompletedAt != nil {
		completed, err := ParseTime(*si.CompletedAt)
		if err != nil {
			return ref, err
		}
		ref.CompletedAt = &completed
	}
	if si.ClosedAt != nil {
		closed, err := ParseTime(*si.ClosedAt)
		if err != nil {
			return ref, err
		}
		ref.HasClosed = true
		ref.ClosedAt = closed
	}
	return ref, nil
}

// ShouldRepeat reports whether a new instance is due at now, given the
// reference instants of the most recent instance and how many instances
// already exist. Raising the repeat limit later re-enables creation because
// the count is compared fresh on every run.
func ShouldRepeat(t domain.Track, ref Reference, existing int, now time.Time) bool {
	if !t.RepeatingEnabled || t.RepeatingOffset == nil {
		return false
	}
	if t.RepeatLimit != nil && existing >= *t.RepeatLimit {
		return false
	}

	offset := *t.RepeatingOffset
	afterCreation := !now.Before(ApplyOffset(offset, ref.CreatedAt))
	afterCompletion := ref.CompletedAt != nil && !now.Before(ApplyOffset(offset, *ref.CompletedAt))
	afterClosure := ref.HasClosed && !now.Before(ApplyOffset(offset, ref.ClosedAt))

	switch t.RepeatingTrigger {
	case domain.TriggerAfterCreation:
		return afterCreation
	case domain.TriggerAfterCompletion:
		return afterCompletion
	case domain.TriggerAfterClosure:
		return afterClosure
	case domain.TriggerAfterCreationAndCompletion:
		return afterCreation && afterCompletion
	case domain.TriggerAfterCreationAndClosure:
		return afterCreation && afterClosure
	case domain.TriggerAfterCompletionOrClosure:
		return afterCompletion || afterClosure
	case domain.TriggerAfterCreationAndCompletionOrClosure:
		return afterCreation && (afterCompletion || afterClosure)
	}
	return false
}

// InPeriod reports whether now falls inside an assignment's optional period.
func InPeriod(a domain.TrackUserAssignment, now time.Time) (bool, error) {
	if a.PeriodStart != nil {
		start, err := ParseTime(*a.PeriodStart)
		if err != nil {
			return false, err
		}
		if now.Before(start) {
			return false, nil
		}
	}
	if a.PeriodEnd != nil {
		end, err := ParseTime(*a.PeriodEnd)
		if err != nil {
			return false, err
		}
		if now.After(end) {
			return false, nil
		}
	}
	return true, nil
}
