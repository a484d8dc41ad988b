package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"appraise/internal/domain"
)

func scanActivity(scan func(dest ...any) error) (domain.Activity, error) {
	var a domain.Activity
	err := scan(&a.ID, &a.Name, &a.Status, &a.OverrideSyncSettings, &a.SyncCreation, &a.SyncClosure, &a.CloseOnDueDate, &a.AnonymousResponses, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

const activityCols = `id,name,status,override_sync_settings,sync_creation,sync_closure,close_on_due_date,anonymous_responses,created_at`

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activities(`+activityCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Status, a.OverrideSyncSettings, a.SyncCreation, a.SyncClosure, a.CloseOnDueDate, a.AnonymousResponses, a.CreatedAt)
	return err
}

func (r Repo) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activities WHERE id=?`, id)
	return scanActivity(row.Scan)
}

func (r Repo) ListActivities(ctx context.Context, status string) ([]domain.Activity, error) {
	var clauses []string
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityCols+` FROM activities `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) UpdateActivityStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE activities SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ActivitySettings struct {
	OverrideSyncSettings *bool
	SyncCreation         *bool
	SyncClosure          *bool
	CloseOnDueDate       *bool
}

func (r Repo) UpdateActivitySettings(ctx context.Context, id string, s ActivitySettings) error {
	var (
		fields []string
		args   []any
	)
	if s.OverrideSyncSettings != nil {
		fields = append(fields, "override_sync_settings=?")
		args = append(args, *s.OverrideSyncSettings)
	}
	if s.SyncCreation != nil {
		fields = append(fields, "sync_creation=?")
		args = append(args, *s.SyncCreation)
	}
	if s.SyncClosure != nil {
		fields = append(fields, "sync_closure=?")
		args = append(args, *s.SyncClosure)
	}
	if s.CloseOnDueDate != nil {
		fields = append(fields, "close_on_due_date=?")
		args = append(args, *s.CloseOnDueDate)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE activities SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertActivityRelationship(ctx context.Context, rel domain.ActivityRelationship) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activity_relationships(id,activity_id,relationship,view_only) VALUES (?,?,?,?)`,
		rel.ID, rel.ActivityID, rel.Relationship, rel.ViewOnly)
	return err
}

func (r Repo) ListActivityRelationships(ctx context.Context, activityID string) ([]domain.ActivityRelationship, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,activity_id,relationship,view_only FROM activity_relationships WHERE activity_id=? ORDER BY relationship ASC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityRelationship
	for rows.Next() {
		var rel domain.ActivityRelationship
		if err := rows.Scan(&rel.ID, &rel.ActivityID, &rel.Relationship, &rel.ViewOnly); err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, nil
}
