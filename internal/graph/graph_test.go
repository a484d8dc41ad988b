package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"appraise/internal/domain"
)

func ja(id, userID string, managerJAID, appraiserID string) domain.JobAssignment {
	out := domain.JobAssignment{ID: id, UserID: userID}
	if managerJAID != "" {
		out.ManagerJAID = &managerJAID
	}
	if appraiserID != "" {
		out.AppraiserID = &appraiserID
	}
	return out
}

func TestResolveManagerChain(t *testing.T) {
	// carol manages bob manages alice, all along one chain.
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-carol", "carol", "", ""),
		ja("ja-bob", "bob", "ja-carol", ""),
		ja("ja-alice", "alice", "ja-bob", ""),
	})

	require.Equal(t, []string{"bob"}, s.Resolve(domain.RelationshipManager, "alice", nil))
	require.Equal(t, []string{"carol"}, s.Resolve(domain.RelationshipManagersManager, "alice", nil))
	require.Equal(t, []string{"alice"}, s.Resolve(domain.RelationshipDirectReport, "bob", nil))
	require.Equal(t, []string{"alice"}, s.Resolve(domain.RelationshipSubject, "alice", nil))
}

func TestManagersManagerFollowsSameEdge(t *testing.T) {
	// bob holds two job assignments with different upward chains. alice
	// reports to bob through ja-bob-1, so her manager's manager is carol,
	// never dave.
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-carol", "carol", "", ""),
		ja("ja-dave", "dave", "", ""),
		ja("ja-bob-1", "bob", "ja-carol", ""),
		ja("ja-bob-2", "bob", "ja-dave", ""),
		ja("ja-alice", "alice", "ja-bob-1", ""),
	})

	require.Equal(t, []string{"carol"}, s.Resolve(domain.RelationshipManagersManager, "alice", nil))
}

func TestResolveScopedToJobAssignment(t *testing.T) {
	// alice has two jobs with different managers; scoping to one assignment
	// must ignore the other.
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-bob", "bob", "", ""),
		ja("ja-carol", "carol", "", ""),
		ja("ja-alice-1", "alice", "ja-bob", ""),
		ja("ja-alice-2", "alice", "ja-carol", ""),
	})

	scoped := "ja-alice-1"
	require.Equal(t, []string{"bob"}, s.Resolve(domain.RelationshipManager, "alice", &scoped))
	require.ElementsMatch(t, []string{"bob", "carol"}, s.Resolve(domain.RelationshipManager, "alice", nil))
}

func TestResolveAppraiser(t *testing.T) {
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-alice", "alice", "", "eve"),
	})
	require.Equal(t, []string{"eve"}, s.Resolve(domain.RelationshipAppraiser, "alice", nil))
}

func TestResolveDeduplicates(t *testing.T) {
	// bob manages both of alice's jobs: he participates once.
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-bob", "bob", "", ""),
		ja("ja-alice-1", "alice", "ja-bob", ""),
		ja("ja-alice-2", "alice", "ja-bob", ""),
	})
	require.Equal(t, []string{"bob"}, s.Resolve(domain.RelationshipManager, "alice", nil))
}

func TestResolveManualRelationshipsEmpty(t *testing.T) {
	s := NewSnapshot(nil)
	require.Empty(t, s.Resolve(domain.RelationshipPeer, "alice", nil))
	require.Empty(t, s.Resolve(domain.RelationshipExternal, "alice", nil))
}

func TestDanglingManagerEdge(t *testing.T) {
	// manager_ja_id points at a deleted assignment.
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-alice", "alice", "ja-gone", ""),
	})
	require.Empty(t, s.Resolve(domain.RelationshipManager, "alice", nil))
	require.Empty(t, s.Resolve(domain.RelationshipManagersManager, "alice", nil))
}

func TestDirectReportsAcrossAssignments(t *testing.T) {
	s := NewSnapshot([]domain.JobAssignment{
		ja("ja-bob-1", "bob", "", ""),
		ja("ja-bob-2", "bob", "", ""),
		ja("ja-alice", "alice", "ja-bob-1", ""),
		ja("ja-carol", "carol", "ja-bob-2", ""),
	})
	require.ElementsMatch(t, []string{"alice", "carol"}, s.DirectReports("bob"))
}
