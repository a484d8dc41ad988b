package repo

import (
	"context"
	"database/sql"
	"strings"

	"appraise/internal/domain"
)

const participantCols = `id,subject_instance_id,participant_user_id,external_email,external_token,relationship,participant_source,availability,progress,created_at,closed_at`

func scanParticipant(scan func(dest ...any) error) (domain.ParticipantInstance, error) {
	var pi domain.ParticipantInstance
	var closedAt sql.NullString
	err := scan(&pi.ID, &pi.SubjectInstanceID, &pi.ParticipantUserID, &pi.ExternalEmail, &pi.ExternalToken,
		&pi.Relationship, &pi.Source, &pi.Availability, &pi.Progress, &pi.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return pi, ErrNotFound
	}
	if err != nil {
		return pi, err
	}
	pi.ClosedAt = strPtr(closedAt)
	return pi, nil
}

func (r Repo) InsertParticipantTx(ctx context.Context, tx *sql.Tx, pi domain.ParticipantInstance) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO participant_instances(subject_instance_id,participant_user_id,external_email,external_token,relationship,participant_source,availability,progress,created_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		pi.SubjectInstanceID, pi.ParticipantUserID, pi.ExternalEmail, pi.ExternalToken, pi.Relationship,
		pi.Source, pi.Availability, pi.Progress, pi.CreatedAt, nullableStringPtr(pi.ClosedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetParticipant(ctx context.Context, id int64) (domain.ParticipantInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participant_instances WHERE id=?`, id)
	return scanParticipant(row.Scan)
}

func (r Repo) GetParticipantByToken(ctx context.Context, token string) (domain.ParticipantInstance, error) {
	if token == "" {
		return domain.ParticipantInstance{}, ErrNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participant_instances WHERE external_token=?`, token)
	return scanParticipant(row.Scan)
}

func (r Repo) ListParticipants(ctx context.Context, subjectInstanceID int64) ([]domain.ParticipantInstance, error) {
	return r.listParticipants(ctx, r.DB.QueryContext, subjectInstanceID)
}

func (r Repo) ListParticipantsTx(ctx context.Context, tx *sql.Tx, subjectInstanceID int64) ([]domain.ParticipantInstance, error) {
	return r.listParticipants(ctx, tx.QueryContext, subjectInstanceID)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listParticipants(ctx context.Context, query queryFn, subjectInstanceID int64) ([]domain.ParticipantInstance, error) {
	rows, err := query(ctx, `SELECT `+participantCols+` FROM participant_instances WHERE subject_instance_id=? ORDER BY id ASC`, subjectInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ParticipantInstance
	for rows.Next() {
		pi, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pi)
	}
	return res, nil
}

// ListParticipationForUser returns the user's own participant instances,
// newest first.
func (r Repo) ListParticipationForUser(ctx context.Context, userID string, limit int) ([]domain.ParticipantInstance, error) {
	query := `SELECT ` + participantCols + ` FROM participant_instances WHERE participant_user_id=? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ParticipantInstance
	for rows.Next() {
		pi, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pi)
	}
	return res, nil
}

func (r Repo) UpdateParticipantAvailabilityTx(ctx context.Context, tx *sql.Tx, id int64, availability string, closedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE participant_instances SET availability=?, closed_at=? WHERE id=?`,
		availability, nullableStringPtr(closedAt), id)
	return err
}

func (r Repo) UpdateParticipantProgressTx(ctx context.Context, tx *sql.Tx, id int64, progress string) error {
	_, err := tx.ExecContext(ctx, `UPDATE participant_instances SET progress=? WHERE id=?`, progress, id)
	return err
}

func (r Repo) DeleteParticipantsTx(ctx context.Context, tx *sql.Tx, ids []int64) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM participant_instances WHERE id=?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertManualSelectionTx(ctx context.Context, tx *sql.Tx, ms domain.ManualSelection) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO manual_selections(subject_instance_id,relationship,user_id,external_email,selected_by_id,created_at) VALUES (?,?,?,?,?,?)`,
		ms.SubjectInstanceID, ms.Relationship, ms.UserID, ms.ExternalEmail, ms.SelectedByID, ms.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListManualSelections(ctx context.Context, subjectInstanceID int64) ([]domain.ManualSelection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subject_instance_id,relationship,user_id,external_email,selected_by_id,created_at FROM manual_selections WHERE subject_instance_id=? ORDER BY id ASC`, subjectInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManualSelection
	for rows.Next() {
		var ms domain.ManualSelection
		if err := rows.Scan(&ms.ID, &ms.SubjectInstanceID, &ms.Relationship, &ms.UserID, &ms.ExternalEmail, &ms.SelectedByID, &ms.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ms)
	}
	return res, nil
}

// CountParticipantsByRelationship groups live participant counts for a
// subject instance.
func (r Repo) CountParticipantsByRelationship(ctx context.Context, subjectInstanceID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT relationship, count(*) FROM participant_instances WHERE subject_instance_id=? GROUP BY relationship`, subjectInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var rel string
		var count int
		if err := rows.Scan(&rel, &count); err != nil {
			return nil, err
		}
		res[rel] = count
	}
	return res, nil
}

// CountSubjectInstancesByStatus groups instance counts for an activity.
func (r Repo) CountSubjectInstancesByStatus(ctx context.Context, activityID string) (map[string]int, error) {
	clauses := []string{"1=1"}
	var args []any
	if activityID != "" {
		clauses = append(clauses, "activity_id=?")
		args = append(args, activityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT availability, count(*) FROM subject_instances `+where+` GROUP BY availability`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var availability string
		var count int
		if err := rows.Scan(&availability, &count); err != nil {
			return nil, err
		}
		res[availability] = count
	}
	return res, nil
}

// CountActivityParticipantsByRelationship groups participant counts across
// all instances of an activity.
func (r Repo) CountActivityParticipantsByRelationship(ctx context.Context, activityID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.relationship, count(*)
		FROM participant_instances p
		JOIN subject_instances s ON s.id = p.subject_instance_id
		WHERE s.activity_id=? GROUP BY p.relationship`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var rel string
		var count int
		if err := rows.Scan(&rel, &count); err != nil {
			return nil, err
		}
		res[rel] = count
	}
	return res, nil
}
