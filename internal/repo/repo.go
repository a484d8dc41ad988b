package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"appraise/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,suspended,deleted,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Suspended, u.Deleted, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,suspended,deleted,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Suspended, &u.Deleted, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) SetUserSuspended(ctx context.Context, id string, suspended bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET suspended=? WHERE id=?`, suspended, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetUserDeleted(ctx context.Context, id string, deleted bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET deleted=? WHERE id=?`, deleted, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,suspended,deleted,created_at FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Suspended, &u.Deleted, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

func scanJobAssignment(scan func(dest ...any) error) (domain.JobAssignment, error) {
	var ja domain.JobAssignment
	var managerJAID, appraiserID sql.NullString
	err := scan(&ja.ID, &ja.UserID, &ja.IDNumber, &managerJAID, &appraiserID, &ja.CreatedAt, &ja.UpdatedAt)
	if err == sql.ErrNoRows {
		return ja, ErrNotFound
	}
	if err != nil {
		return ja, err
	}
	ja.ManagerJAID = strPtr(managerJAID)
	ja.AppraiserID = strPtr(appraiserID)
	return ja, nil
}

func (r Repo) InsertJobAssignment(ctx context.Context, ja domain.JobAssignment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_assignments(id,user_id,idnumber,manager_ja_id,appraiser_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		ja.ID, ja.UserID, ja.IDNumber, nullableStringPtr(ja.ManagerJAID), nullableStringPtr(ja.AppraiserID), ja.CreatedAt, ja.UpdatedAt)
	return err
}

func (r Repo) UpdateJobAssignment(ctx context.Context, ja domain.JobAssignment) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE job_assignments SET manager_ja_id=?, appraiser_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(ja.ManagerJAID), nullableStringPtr(ja.AppraiserID), ja.UpdatedAt, ja.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteJobAssignment(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM job_assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJobAssignment(ctx context.Context, id string) (domain.JobAssignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,idnumber,manager_ja_id,appraiser_id,created_at,updated_at FROM job_assignments WHERE id=?`, id)
	return scanJobAssignment(row.Scan)
}

func (r Repo) ListJobAssignments(ctx context.Context, userID string) ([]domain.JobAssignment, error) {
	var clauses []string
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,idnumber,manager_ja_id,appraiser_id,created_at,updated_at FROM job_assignments `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobAssignment
	for rows.Next() {
		ja, err := scanJobAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ja)
	}
	return res, nil
}
