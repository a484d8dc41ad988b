package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"appraise/internal/domain"
)

const trackCols = `id,activity_id,status,schedule_fixed_from,schedule_fixed_to,due_date_mode,due_date_fixed,due_date_offset_count,due_date_offset_unit,repeating_enabled,repeating_trigger,repeating_offset_count,repeating_offset_unit,repeat_limit,generation_mode,schedule_needs_sync,created_at,updated_at`

func scanTrack(scan func(dest ...any) error) (domain.Track, error) {
	var t domain.Track
	var fixedFrom, fixedTo, dueFixed, dueUnit, repUnit sql.NullString
	var dueCount, repCount, repeatLimit sql.NullInt64
	err := scan(&t.ID, &t.ActivityID, &t.Status, &fixedFrom, &fixedTo, &t.DueDateMode, &dueFixed, &dueCount, &dueUnit,
		&t.RepeatingEnabled, &t.RepeatingTrigger, &repCount, &repUnit, &repeatLimit, &t.GenerationMode, &t.ScheduleNeedsSync, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ScheduleFixedFrom = strPtr(fixedFrom)
	t.ScheduleFixedTo = strPtr(fixedTo)
	t.DueDateFixed = strPtr(dueFixed)
	if dueCount.Valid && dueUnit.Valid {
		t.DueDateOffset = &domain.DateOffset{Count: int(dueCount.Int64), Unit: dueUnit.String}
	}
	if repCount.Valid && repUnit.Valid {
		t.RepeatingOffset = &domain.DateOffset{Count: int(repCount.Int64), Unit: repUnit.String}
	}
	if repeatLimit.Valid {
		n := int(repeatLimit.Int64)
		t.RepeatLimit = &n
	}
	return t, nil
}

func offsetCols(o *domain.DateOffset) (any, any) {
	if o == nil {
		return nil, nil
	}
	return o.Count, o.Unit
}

func (r Repo) InsertTrack(ctx context.Context, t domain.Track) error {
	dueCount, dueUnit := offsetCols(t.DueDateOffset)
	repCount, repUnit := offsetCols(t.RepeatingOffset)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tracks(`+trackCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ActivityID, t.Status, nullableStringPtr(t.ScheduleFixedFrom), nullableStringPtr(t.ScheduleFixedTo),
		t.DueDateMode, nullableStringPtr(t.DueDateFixed), dueCount, dueUnit,
		t.RepeatingEnabled, t.RepeatingTrigger, repCount, repUnit, nullableIntPtr(t.RepeatLimit),
		t.GenerationMode, t.ScheduleNeedsSync, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTrack(ctx context.Context, t domain.Track) error {
	dueCount, dueUnit := offsetCols(t.DueDateOffset)
	repCount, repUnit := offsetCols(t.RepeatingOffset)
	res, err := r.DB.ExecContext(ctx, `UPDATE tracks SET status=?, schedule_fixed_from=?, schedule_fixed_to=?, due_date_mode=?, due_date_fixed=?, due_date_offset_count=?, due_date_offset_unit=?, repeating_enabled=?, repeating_trigger=?, repeating_offset_count=?, repeating_offset_unit=?, repeat_limit=?, generation_mode=?, schedule_needs_sync=?, updated_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.ScheduleFixedFrom), nullableStringPtr(t.ScheduleFixedTo),
		t.DueDateMode, nullableStringPtr(t.DueDateFixed), dueCount, dueUnit,
		t.RepeatingEnabled, t.RepeatingTrigger, repCount, repUnit, nullableIntPtr(t.RepeatLimit),
		t.GenerationMode, t.ScheduleNeedsSync, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTrack(ctx context.Context, id string) (domain.Track, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+trackCols+` FROM tracks WHERE id=?`, id)
	return scanTrack(row.Scan)
}

func (r Repo) ListTracks(ctx context.Context, activityID string) ([]domain.Track, error) {
	var clauses []string
	var args []any
	if activityID != "" {
		clauses = append(clauses, "activity_id=?")
		args = append(args, activityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+trackCols+` FROM tracks `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Track
	for rows.Next() {
		t, err := scanTrack(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// ListGenerationTracks returns active tracks of active activities whose
// schedule is settled. Tracks awaiting a schedule re-sync are excluded so
// instances are not generated against stale expansion data.
func (r Repo) ListGenerationTracks(ctx context.Context) ([]domain.Track, error) {
	query := fmt.Sprintf(`SELECT %s FROM tracks t
JOIN activities a ON a.id = t.activity_id
WHERE t.status=? AND t.schedule_needs_sync=0 AND a.status=?
ORDER BY t.created_at ASC, t.id ASC`, prefixCols("t", trackCols))
	rows, err := r.DB.QueryContext(ctx, query, domain.TrackActive, domain.ActivityActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Track
	for rows.Next() {
		t, err := scanTrack(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) SetTrackScheduleNeedsSync(ctx context.Context, id string, needsSync bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tracks SET schedule_needs_sync=? WHERE id=?`, needsSync, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(scan func(dest ...any) error) (domain.TrackUserAssignment, error) {
	var a domain.TrackUserAssignment
	var jaID, periodStart, periodEnd sql.NullString
	err := scan(&a.ID, &a.TrackID, &a.SubjectUserID, &jaID, &periodStart, &periodEnd, &a.Deleted, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.JobAssignmentID = strPtr(jaID)
	a.PeriodStart = strPtr(periodStart)
	a.PeriodEnd = strPtr(periodEnd)
	return a, nil
}

const assignmentCols = `id,track_id,subject_user_id,job_assignment_id,period_start,period_end,deleted,created_at`

func (r Repo) InsertAssignment(ctx context.Context, a domain.TrackUserAssignment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO track_user_assignments(`+assignmentCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.TrackID, a.SubjectUserID, nullableStringPtr(a.JobAssignmentID), nullableStringPtr(a.PeriodStart), nullableStringPtr(a.PeriodEnd), a.Deleted, a.CreatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.TrackUserAssignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM track_user_assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) ListAssignments(ctx context.Context, trackID string, includeDeleted bool) ([]domain.TrackUserAssignment, error) {
	clauses := []string{"track_id=?"}
	args := []any{trackID}
	if !includeDeleted {
		clauses = append(clauses, "deleted=0")
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assignmentCols+` FROM track_user_assignments `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackUserAssignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) SetAssignmentDeleted(ctx context.Context, id string, deleted bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE track_user_assignments SET deleted=? WHERE id=?`, deleted, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
