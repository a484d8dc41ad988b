package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"appraise/internal/domain"
	"appraise/internal/events"
	"appraise/internal/repo"
)

// CreateUser registers a user.
func (e Engine) CreateUser(ctx context.Context, name, email string) (domain.User, error) {
	if name == "" {
		return domain.User{}, fmt.Errorf("name is required")
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return u, err
	}
	return u, nil
}

// SetUserSuspended toggles suspension. Suspending a user flags the instances
// they participate in for removal when suspended users are hidden;
// unsuspending flags them for re-addition.
func (e Engine) SetUserSuspended(ctx context.Context, userID string, suspended bool) error {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Suspended == suspended {
		return nil
	}
	if err := e.Repo.SetUserSuspended(ctx, userID, suspended); err != nil {
		return err
	}
	if !e.hideSuspended() {
		return nil
	}
	candidates, err := e.Repo.ListFlagCandidatesForParticipant(ctx, userID)
	if err != nil {
		return err
	}
	return e.flagCandidates(ctx, candidates, !suspended, suspended)
}

// DeleteUser marks the account deleted, winds down the user's own open
// subject instances, and flags the instances they participate in so the next
// sync removes their participant instances. Instances still awaiting
// participant selection hold no contributions and are deleted outright;
// activated ones close.
func (e Engine) DeleteUser(ctx context.Context, userID string) error {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return err
	}
	participating, err := e.Repo.ListFlagCandidatesForParticipant(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.Repo.SetUserDeleted(ctx, userID, true); err != nil {
		return err
	}

	open, err := e.Repo.ListOpenSubjectInstancesForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, si := range open {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if si.IsPending() {
			if err := e.Repo.DeleteSubjectInstanceTx(ctx, tx, si.ID); err != nil {
				tx.Rollback()
				return err
			}
			if err := e.Events.Append(ctx, tx, "subject_instance.deleted", si.ActivityID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
				"subject_user_id": si.SubjectUserID,
			}); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			e.publish("subject_instance.deleted", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID})
			continue
		}
		if _, err := e.closeSubjectTx(ctx, tx, si); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		e.publish("subject_instance.closed", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID})
	}
	return e.flagCandidates(ctx, participating, false, true)
}

// CloseSuspendedUserInstances closes the open, activated subject instances of
// suspended users. Instances awaiting participant selection are left alone;
// suspension may lift before anyone is picked. The job is a no-op unless
// enabled in config.
func (e Engine) CloseSuspendedUserInstances(ctx context.Context) (int, error) {
	if e.Config == nil || !e.Config.Users.CloseSuspendedInstances {
		return 0, nil
	}
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	closed := 0
	batch := &BatchError{}
	for _, u := range users {
		if !u.Suspended || u.Deleted {
			continue
		}
		open, err := e.Repo.ListOpenSubjectInstancesForUser(ctx, u.ID)
		if err != nil {
			batch.add(fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		for _, si := range open {
			if si.IsPending() {
				continue
			}
			tx, err := e.DB.BeginTx(ctx, nil)
			if err != nil {
				return closed, err
			}
			if _, err := e.closeSubjectTx(ctx, tx, si); err != nil {
				tx.Rollback()
				batch.add(fmt.Errorf("subject instance %d: %w", si.ID, err))
				continue
			}
			if err := tx.Commit(); err != nil {
				return closed, err
			}
			closed++
			e.publish("subject_instance.closed", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID, "suspended": true})
		}
	}
	return closed, batch.orNil()
}

// CreateAPIKey mints an API key for a user and stores its hash. The raw key
// is returned once and cannot be recovered later.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, err
	}
	raw := uuid.New().String()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", key, err
	}
	return raw, key, nil
}
