package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"appraise/internal/domain"
)

const subjectInstanceCols = `id,track_user_assignment_id,track_id,activity_id,subject_user_id,job_assignment_id,status,availability,progress,needs_sync,due_date,created_at,completed_at,closed_at`

func scanSubjectInstance(scan func(dest ...any) error) (domain.SubjectInstance, error) {
	var si domain.SubjectInstance
	var jaID, dueDate, completedAt, closedAt sql.NullString
	err := scan(&si.ID, &si.TrackUserAssignmentID, &si.TrackID, &si.ActivityID, &si.SubjectUserID, &jaID,
		&si.Status, &si.Availability, &si.Progress, &si.NeedsSync, &dueDate, &si.CreatedAt, &completedAt, &closedAt)
	if err == sql.ErrNoRows {
		return si, ErrNotFound
	}
	if err != nil {
		return si, err
	}
	si.JobAssignmentID = strPtr(jaID)
	si.DueDate = strPtr(dueDate)
	si.CompletedAt = strPtr(completedAt)
	si.ClosedAt = strPtr(closedAt)
	return si, nil
}

func (r Repo) InsertSubjectInstanceTx(ctx context.Context, tx *sql.Tx, si domain.SubjectInstance) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO subject_instances(track_user_assignment_id,track_id,activity_id,subject_user_id,job_assignment_id,status,availability,progress,needs_sync,due_date,created_at,completed_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		si.TrackUserAssignmentID, si.TrackID, si.ActivityID, si.SubjectUserID, nullableStringPtr(si.JobAssignmentID),
		si.Status, si.Availability, si.Progress, si.NeedsSync, nullableStringPtr(si.DueDate), si.CreatedAt,
		nullableStringPtr(si.CompletedAt), nullableStringPtr(si.ClosedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSubjectInstance(ctx context.Context, id int64) (domain.SubjectInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subjectInstanceCols+` FROM subject_instances WHERE id=?`, id)
	return scanSubjectInstance(row.Scan)
}

func (r Repo) GetSubjectInstanceTx(ctx context.Context, tx *sql.Tx, id int64) (domain.SubjectInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+subjectInstanceCols+` FROM subject_instances WHERE id=?`, id)
	return scanSubjectInstance(row.Scan)
}

// LatestSubjectInstance returns the most recent instance for an assignment.
// Recency is by id; ids are monotonic within an assignment.
func (r Repo) LatestSubjectInstance(ctx context.Context, assignmentID string) (domain.SubjectInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subjectInstanceCols+` FROM subject_instances WHERE track_user_assignment_id=? ORDER BY id DESC LIMIT 1`, assignmentID)
	return scanSubjectInstance(row.Scan)
}

func (r Repo) CountSubjectInstances(ctx context.Context, assignmentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM subject_instances WHERE track_user_assignment_id=?`, assignmentID).Scan(&n)
	return n, err
}

type SubjectInstanceFilters struct {
	ActivityID    string
	TrackID       string
	SubjectUserID string
	Status        string
	Availability  string
	Progress      string
	NeedsSync     *bool
	Limit         int
	CursorID      int64
}

func (r Repo) ListSubjectInstances(ctx context.Context, f SubjectInstanceFilters) ([]domain.SubjectInstance, error) {
	var clauses []string
	var args []any
	if f.ActivityID != "" {
		clauses = append(clauses, "activity_id=?")
		args = append(args, f.ActivityID)
	}
	if f.TrackID != "" {
		clauses = append(clauses, "track_id=?")
		args = append(args, f.TrackID)
	}
	if f.SubjectUserID != "" {
		clauses = append(clauses, "subject_user_id=?")
		args = append(args, f.SubjectUserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Availability != "" {
		clauses = append(clauses, "availability=?")
		args = append(args, f.Availability)
	}
	if f.Progress != "" {
		clauses = append(clauses, "progress=?")
		args = append(args, f.Progress)
	}
	if f.NeedsSync != nil {
		clauses = append(clauses, "needs_sync=?")
		args = append(args, *f.NeedsSync)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + subjectInstanceCols + ` FROM subject_instances ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// ListSyncCandidates returns flagged subject instances eligible for a
// participant re-sync: open, not complete, activated.
func (r Repo) ListSyncCandidates(ctx context.Context, limit int) ([]domain.SubjectInstance, error) {
	query := `SELECT ` + subjectInstanceCols + ` FROM subject_instances
WHERE needs_sync=1 AND availability=? AND progress != ? AND status != ?
ORDER BY id ASC`
	args := []any{domain.AvailabilityOpen, domain.ProgressComplete, domain.SubjectStatusPending}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// ListFlagCandidates returns open, incomplete, activated instances whose
// subject user is in the given set. These are the only instances a
// relationship change can affect.
func (r Repo) ListFlagCandidates(ctx context.Context, subjectUserIDs []string) ([]domain.SubjectInstance, error) {
	if len(subjectUserIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(subjectUserIDs)), ",")
	args := make([]any, 0, len(subjectUserIDs)+3)
	for _, id := range subjectUserIDs {
		args = append(args, id)
	}
	args = append(args, domain.AvailabilityOpen, domain.ProgressComplete, domain.SubjectStatusPending)
	query := fmt.Sprintf(`SELECT %s FROM subject_instances
WHERE subject_user_id IN (%s) AND availability=? AND progress != ? AND status != ?
ORDER BY id ASC`, subjectInstanceCols, placeholders)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// ListFlagCandidatesForParticipant returns open, incomplete, activated
// instances in which the user currently holds a participant instance.
func (r Repo) ListFlagCandidatesForParticipant(ctx context.Context, userID string) ([]domain.SubjectInstance, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM subject_instances si
JOIN participant_instances pi ON pi.subject_instance_id = si.id
WHERE pi.participant_user_id=? AND si.availability=? AND si.progress != ? AND si.status != ?
ORDER BY si.id ASC`, prefixCols("si", subjectInstanceCols))
	rows, err := r.DB.QueryContext(ctx, query, userID, domain.AvailabilityOpen, domain.ProgressComplete, domain.SubjectStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// ListDueSubjectInstances returns open, activated instances with a due date
// at or before now, for activities with due-date closure enabled.
func (r Repo) ListDueSubjectInstances(ctx context.Context, now string) ([]domain.SubjectInstance, error) {
	query := `SELECT ` + prefixCols("si", subjectInstanceCols) + ` FROM subject_instances si
JOIN activities a ON a.id = si.activity_id
WHERE a.close_on_due_date=1 AND si.availability=? AND si.status=? AND si.due_date IS NOT NULL AND si.due_date <= ?
ORDER BY si.activity_id ASC, si.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, domain.AvailabilityOpen, domain.SubjectStatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// ListOpenSubjectInstancesForUser returns the user's open instances, used
// when a suspended or deleted account is being wound down.
func (r Repo) ListOpenSubjectInstancesForUser(ctx context.Context, userID string) ([]domain.SubjectInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subjectInstanceCols+` FROM subject_instances WHERE subject_user_id=? AND availability=? ORDER BY id ASC`,
		userID, domain.AvailabilityOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubjectInstance
	for rows.Next() {
		si, err := scanSubjectInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

// DeleteSubjectInstanceTx removes a subject instance with its participant
// instances and manual selections. Only instances still awaiting participant
// selection are deleted this way; activated ones close instead.
func (r Repo) DeleteSubjectInstanceTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM manual_selections WHERE subject_instance_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participant_instances WHERE subject_instance_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM subject_instances WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkNeedsSyncTx(ctx context.Context, tx *sql.Tx, ids []int64, needsSync bool) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE subject_instances SET needs_sync=? WHERE id=?`, needsSync, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateSubjectStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE subject_instances SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) UpdateSubjectAvailabilityTx(ctx context.Context, tx *sql.Tx, id int64, availability string, closedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE subject_instances SET availability=?, closed_at=? WHERE id=?`,
		availability, nullableStringPtr(closedAt), id)
	return err
}

func (r Repo) UpdateSubjectProgressTx(ctx context.Context, tx *sql.Tx, id int64, progress string, completedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE subject_instances SET progress=?, completed_at=? WHERE id=?`,
		progress, nullableStringPtr(completedAt), id)
	return err
}

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ",")
}
