package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"appraise/internal/domain"
)

func ts(v string) *string { return &v }

func at(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWindowOpen(t *testing.T) {
	now := at("2024-06-15T00:00:00Z")

	open, err := WindowOpen(nil, nil, now)
	require.NoError(t, err)
	require.True(t, open, "unbounded window is always open")

	open, err = WindowOpen(ts("2024-06-01T00:00:00Z"), nil, now)
	require.NoError(t, err)
	require.True(t, open)

	open, err = WindowOpen(ts("2024-07-01T00:00:00Z"), nil, now)
	require.NoError(t, err)
	require.False(t, open, "window not started yet")

	open, err = WindowOpen(ts("2024-06-01T00:00:00Z"), ts("2024-06-30T00:00:00Z"), now)
	require.NoError(t, err)
	require.True(t, open)

	open, err = WindowOpen(ts("2024-01-01T00:00:00Z"), ts("2024-02-01T00:00:00Z"), now)
	require.NoError(t, err)
	require.False(t, open, "window already closed")

	open, err = WindowOpen(nil, ts("2024-12-31T00:00:00Z"), now)
	require.NoError(t, err)
	require.False(t, open, "end without start is invalid")
}

func TestApplyOffset(t *testing.T) {
	ref := at("2024-01-31T12:00:00Z")
	require.Equal(t, at("2024-02-03T12:00:00Z"), ApplyOffset(domain.DateOffset{Count: 3, Unit: domain.UnitDay}, ref))
	require.Equal(t, at("2024-02-14T12:00:00Z"), ApplyOffset(domain.DateOffset{Count: 2, Unit: domain.UnitWeek}, ref))
	// calendar month arithmetic; Jan 31 + 1 month normalizes past February
	require.Equal(t, at("2024-03-02T12:00:00Z"), ApplyOffset(domain.DateOffset{Count: 1, Unit: domain.UnitMonth}, ref))
}

func TestDueDate(t *testing.T) {
	creation := at("2024-03-01T00:00:00Z")

	got, err := DueDate(domain.Track{ID: "t1", DueDateMode: domain.DueDateDisabled}, creation)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = DueDate(domain.Track{ID: "t1", DueDateMode: domain.DueDateFixed, DueDateFixed: ts("2024-09-01T00:00:00Z")}, creation)
	require.NoError(t, err)
	require.Equal(t, "2024-09-01T00:00:00Z", *got)

	got, err = DueDate(domain.Track{
		ID:            "t1",
		DueDateMode:   domain.DueDateRelative,
		DueDateOffset: &domain.DateOffset{Count: 2, Unit: domain.UnitWeek},
	}, creation)
	require.NoError(t, err)
	require.Equal(t, "2024-03-15T00:00:00Z", *got)

	_, err = DueDate(domain.Track{ID: "t1", DueDateMode: domain.DueDateFixed}, creation)
	require.Error(t, err)
}

func repeatingTrack(trigger string, limit *int) domain.Track {
	return domain.Track{
		ID:               "t1",
		RepeatingEnabled: true,
		RepeatingTrigger: trigger,
		RepeatingOffset:  &domain.DateOffset{Count: 1, Unit: domain.UnitWeek},
		RepeatLimit:      limit,
	}
}

func TestShouldRepeatSimpleTriggers(t *testing.T) {
	created := at("2024-01-01T00:00:00Z")
	completed := at("2024-01-03T00:00:00Z")
	closed := at("2024-01-05T00:00:00Z")
	ref := Reference{CreatedAt: created, CompletedAt: &completed, HasClosed: true, ClosedAt: closed}

	cases := []struct {
		trigger string
		now     time.Time
		want    bool
	}{
		{domain.TriggerAfterCreation, at("2024-01-08T00:00:00Z"), true},
		{domain.TriggerAfterCreation, at("2024-01-07T23:59:59Z"), false},
		{domain.TriggerAfterCompletion, at("2024-01-10T00:00:00Z"), true},
		{domain.TriggerAfterCompletion, at("2024-01-09T00:00:00Z"), false},
		{domain.TriggerAfterClosure, at("2024-01-12T00:00:00Z"), true},
		{domain.TriggerAfterClosure, at("2024-01-11T00:00:00Z"), false},
	}
	for _, tc := range cases {
		got := ShouldRepeat(repeatingTrack(tc.trigger, nil), ref, 1, tc.now)
		require.Equal(t, tc.want, got, "%s at %s", tc.trigger, tc.now)
	}
}

func TestShouldRepeatCompoundTriggers(t *testing.T) {
	created := at("2024-01-01T00:00:00Z")
	completed := at("2024-01-03T00:00:00Z")
	ref := Reference{CreatedAt: created, CompletedAt: &completed}

	// creation offset satisfied, completion offset not
	now := at("2024-01-09T00:00:00Z")
	require.False(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreationAndCompletion, nil), ref, 1, now))
	// both satisfied
	now = at("2024-01-10T00:00:00Z")
	require.True(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreationAndCompletion, nil), ref, 1, now))

	// or-trigger: completion satisfied even without closure
	require.True(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCompletionOrClosure, nil), ref, 1, now))
	// never completed nor closed
	bare := Reference{CreatedAt: created}
	require.False(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCompletionOrClosure, nil), bare, 1, now))

	// creation and (completion or closure)
	require.True(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreationAndCompletionOrClosure, nil), ref, 1, now))
	require.False(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreationAndCompletionOrClosure, nil), bare, 1, now))
}

func TestShouldRepeatLimit(t *testing.T) {
	ref := Reference{CreatedAt: at("2024-01-01T00:00:00Z")}
	now := at("2024-02-01T00:00:00Z")
	limit := 3

	require.True(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreation, &limit), ref, 2, now))
	require.False(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreation, &limit), ref, 3, now))

	// raising the limit re-enables creation for the same assignment
	raised := 5
	require.True(t, ShouldRepeat(repeatingTrack(domain.TriggerAfterCreation, &raised), ref, 3, now))
}

func TestShouldRepeatDisabled(t *testing.T) {
	ref := Reference{CreatedAt: at("2024-01-01T00:00:00Z")}
	now := at("2024-02-01T00:00:00Z")

	tr := repeatingTrack(domain.TriggerAfterCreation, nil)
	tr.RepeatingEnabled = false
	require.False(t, ShouldRepeat(tr, ref, 0, now))

	tr = repeatingTrack(domain.TriggerAfterCreation, nil)
	tr.RepeatingOffset = nil
	require.False(t, ShouldRepeat(tr, ref, 0, now))
}

func TestInPeriod(t *testing.T) {
	now := at("2024-06-15T00:00:00Z")
	in, err := InPeriod(domain.TrackUserAssignment{}, now)
	require.NoError(t, err)
	require.True(t, in)

	in, err = InPeriod(domain.TrackUserAssignment{PeriodStart: ts("2024-07-01T00:00:00Z")}, now)
	require.NoError(t, err)
	require.False(t, in)

	in, err = InPeriod(domain.TrackUserAssignment{
		PeriodStart: ts("2024-06-01T00:00:00Z"),
		PeriodEnd:   ts("2024-06-30T00:00:00Z"),
	}, now)
	require.NoError(t, err)
	require.True(t, in)

	in, err = InPeriod(domain.TrackUserAssignment{PeriodEnd: ts("2024-05-01T00:00:00Z")}, now)
	require.NoError(t, err)
	require.False(t, in)
}
