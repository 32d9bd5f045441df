package roster

import (
	"context"
	"errors"
	"sync"
)

// Resolver produces the set of students enrolled in a course. The session
// machine calls it exactly once per session, at open, and freezes the
// answer as the roster snapshot.
type Resolver interface {
	ExpectedParticipants(ctx context.Context, courseID string) ([]string, error)
}

// ErrUnknownCourse is returned when no enrollment exists for a course.
var ErrUnknownCourse = errors.New("unknown course")

// Static is a fixed in-memory resolver for dev and tests.
type Static struct {
	mu      sync.RWMutex
	courses map[string][]string
}

// NewStatic creates a resolver over a fixed course-to-students map.
func NewStatic(courses map[string][]string) *Static {
	if courses == nil {
		courses = make(map[string][]string)
	}
	return &Static{courses: courses}
}

// Set replaces the enrollment for a course.
func (s *Static) Set(courseID string, participants []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[courseID] = append([]string(nil), participants...)
}

// ExpectedParticipants returns the enrolled students for a course.
func (s *Static) ExpectedParticipants(ctx context.Context, courseID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.courses[courseID]
	if !ok {
		return nil, ErrUnknownCourse
	}
	return append([]string(nil), ids...), nil
}
