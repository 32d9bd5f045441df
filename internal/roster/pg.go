package roster

import (
	"context"
	"database/sql"
)

// PGResolver reads enrollments from the shared Postgres database.
type PGResolver struct {
	db *sql.DB
}

// NewPGResolver creates a resolver over the enrollments table.
func NewPGResolver(db *sql.DB) *PGResolver {
	return &PGResolver{db: db}
}

// ExpectedParticipants returns the student ids enrolled in a course.
func (r *PGResolver) ExpectedParticipants(ctx context.Context, courseID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM enrollments
		WHERE course_id = $1
		ORDER BY student_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrUnknownCourse
	}
	return ids, nil
}
