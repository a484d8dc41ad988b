// Package graph resolves appraisal relationships from job assignment data.
//
// A job assignment links a user to at most one manager edge, expressed as a
// reference to the manager's own job assignment. Chains like manager's
// manager follow that specific edge, never an arbitrary one of the manager's
// assignments.
package graph

import (
	"appraise/internal/domain"
)

// Snapshot is an in-memory index over job assignments.
type Snapshot struct {
	byID    map[string]domain.JobAssignment
	byUser  map[string][]domain.JobAssignment
	reports map[string][]domain.JobAssignment
}

// NewSnapshot builds the index. Input order is preserved within each user.
func NewSnapshot(assignments []domain.JobAssignment) *Snapshot {
	s := &Snapshot{
		byID:    make(map[string]domain.JobAssignment, len(assignments)),
		byUser:  make(map[string][]domain.JobAssignment),
		reports: make(map[string][]domain.JobAssignment),
	}
	for _, ja := range assignments {
		s.byID[ja.ID] = ja
		s.byUser[ja.UserID] = append(s.byUser[ja.UserID], ja)
		if ja.ManagerJAID != nil {
			s.reports[*ja.ManagerJAID] = append(s.reports[*ja.ManagerJAID], ja)
		}
	}
	return s
}

// Lookup returns the job assignment with the given id.
func (s *Snapshot) Lookup(id string) (domain.JobAssignment, bool) {
	ja, ok := s.byID[id]
	return ja, ok
}

// ForUser returns all job assignments held by a user.
func (s *Snapshot) ForUser(userID string) []domain.JobAssignment {
	return s.byUser[userID]
}

// Manager returns the user at the manager end of the assignment's manager
// edge, if any.
func (s *Snapshot) Manager(ja domain.JobAssignment) (string, bool) {
	if ja.ManagerJAID == nil {
		return "", false
	}
	mja, ok := s.byID[*ja.ManagerJAID]
	if !ok {
		return "", false
	}
	return mja.UserID, true
}

// ManagersManager follows the manager edge twice along the same chain.
func (s *Snapshot) ManagersManager(ja domain.JobAssignment) (string, bool) {
	if ja.ManagerJAID == nil {
		return "", false
	}
	mja, ok := s.byID[*ja.ManagerJAID]
	if !ok {
		return "", false
	}
	return s.Manager(mja)
}

// Appraiser returns the appraiser attached to the assignment, if any.
func (s *Snapshot) Appraiser(ja domain.JobAssignment) (string, bool) {
	if ja.AppraiserID == nil {
		return "", false
	}
	return *ja.AppraiserID, true
}

// ReportsVia returns the users whose manager edge points at the given job
// assignment.
func (s *Snapshot) ReportsVia(jaID string) []string {
	var out []string
	seen := map[string]bool{}
	for _, report := range s.reports[jaID] {
		if !seen[report.UserID] {
			seen[report.UserID] = true
			out = append(out, report.UserID)
		}
	}
	return out
}

// DirectReports returns the users whose manager edge points at any of the
// subject's job assignments.
func (s *Snapshot) DirectReports(subjectUserID string) []string {
	var out []string
	seen := map[string]bool{}
	for _, ja := range s.byUser[subjectUserID] {
		for _, report := range s.reports[ja.ID] {
			if !seen[report.UserID] {
				seen[report.UserID] = true
				out = append(out, report.UserID)
			}
		}
	}
	return out
}

// Resolve returns the user ids holding the relationship towards the subject.
// When jobAssignmentID is set, graph relationships are evaluated against that
// single assignment; otherwise every assignment of the subject contributes.
// Manual relationships always resolve empty here.
func (s *Snapshot) Resolve(relationship, subjectUserID string, jobAssignmentID *string) []string {
	if relationship == domain.RelationshipSubject {
		return []string{subjectUserID}
	}
	if domain.IsManualRelationship(relationship) {
		return nil
	}

	assignments := s.byUser[subjectUserID]
	if jobAssignmentID != nil {
		assignments = nil
		if ja, ok := s.byID[*jobAssignmentID]; ok && ja.UserID == subjectUserID {
			assignments = []domain.JobAssignment{ja}
		}
	}

	var out []string
	seen := map[string]bool{}
	add := func(userID string) {
		if userID != "" && !seen[userID] {
			seen[userID] = true
			out = append(out, userID)
		}
	}
	switch relationship {
	case domain.RelationshipManager:
		for _, ja := range assignments {
			if userID, ok := s.Manager(ja); ok {
				add(userID)
			}
		}
	case domain.RelationshipManagersManager:
		for _, ja := range assignments {
			if userID, ok := s.ManagersManager(ja); ok {
				add(userID)
			}
		}
	case domain.RelationshipAppraiser:
		for _, ja := range assignments {
			if userID, ok := s.Appraiser(ja); ok {
				add(userID)
			}
		}
	case domain.RelationshipDirectReport:
		for _, ja := range assignments {
			for _, report := range s.reports[ja.ID] {
				add(report.UserID)
			}
		}
	}
	return out
}
