package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

const classRequestSelect = `
	SELECT r.id, r.student_id, s.username, s.email, r.teacher_id, t.email,
	       r.status, r.created_at, r.responded_at
	FROM class_requests r
	JOIN users s ON s.id = r.student_id
	JOIN users t ON t.id = r.teacher_id`

const membershipSelect = `
	SELECT m.teacher_id, t.username, m.student_id, s.username, m.joined_at
	FROM class_memberships m
	JOIN users s ON s.id = m.student_id
	JOIN users t ON t.id = m.teacher_id`

// ClassRequestFilter narrows ListClassRequests. Zero values match everything.
type ClassRequestFilter struct {
	TeacherID int64
	StudentID int64
	Status    model.ClassRequestStatus
}

// MembershipFilter narrows ListClassMembers. Zero IDs match everything.
type MembershipFilter struct {
	TeacherID int64
	StudentID int64
}

func scanClassRequest(row interface{ Scan(...any) error }) (*model.ClassRequest, error) {
	var (
		r         model.ClassRequest
		responded sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.StudentID, &r.StudentName, &r.StudentEmail, &r.TeacherID, &r.TeacherEmail,
		&r.Status, &r.CreatedAt, &responded); err != nil {
		return nil, err
	}
	if responded.Valid {
		r.RespondedAt = &responded.Time
	}
	return &r, nil
}

// CreateClassRequest stores a pending join request. Returns ErrDuplicate if
// the student already has a pending request for the teacher.
func (q *Queries) CreateClassRequest(ctx context.Context, studentID, teacherID int64) (int64, error) {
	return q.insert(ctx,
		`INSERT INTO class_requests (student_id, teacher_id, status, created_at) VALUES (?, ?, ?, ?)`,
		studentID, teacherID, model.ClassRequestPending, time.Now().UTC(),
	)
}

// GetClassRequest returns a join request by ID, or nil if there is none.
func (q *Queries) GetClassRequest(ctx context.Context, id int64) (*model.ClassRequest, error) {
	r, err := scanClassRequest(q.queryRow(ctx, classRequestSelect+` WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// FindPendingClassRequest returns the open request of a student for a
// teacher, or nil.
func (q *Queries) FindPendingClassRequest(ctx context.Context, studentID, teacherID int64) (*model.ClassRequest, error) {
	r, err := scanClassRequest(q.queryRow(ctx,
		classRequestSelect+` WHERE r.student_id = ? AND r.teacher_id = ? AND r.status = ?`,
		studentID, teacherID, model.ClassRequestPending,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListClassRequests returns requests matching the filter, oldest first.
func (q *Queries) ListClassRequests(ctx context.Context, f ClassRequestFilter) ([]model.ClassRequest, error) {
	query := classRequestSelect + ` WHERE 1=1`
	var args []any
	if f.TeacherID != 0 {
		query += ` AND r.teacher_id = ?`
		args = append(args, f.TeacherID)
	}
	if f.StudentID != 0 {
		query += ` AND r.student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Status != "" {
		query += ` AND r.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY r.id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []model.ClassRequest
	for rows.Next() {
		r, err := scanClassRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// SetClassRequestStatus records the teacher's answer to a request.
func (q *Queries) SetClassRequestStatus(ctx context.Context, id int64, status model.ClassRequestStatus, at time.Time) error {
	_, err := q.exec(ctx,
		`UPDATE class_requests SET status = ?, responded_at = ? WHERE id = ?`,
		status, at.UTC(), id,
	)
	return err
}

// AddClassMember puts a student into a teacher's class. It reports false if
// the student was already a member.
func (q *Queries) AddClassMember(ctx context.Context, teacherID, studentID int64) (bool, error) {
	res, err := q.exec(ctx,
		`INSERT INTO class_memberships (teacher_id, student_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (teacher_id, student_id) DO NOTHING`,
		teacherID, studentID, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// IsClassMember reports whether the student belongs to the teacher's class.
func (q *Queries) IsClassMember(ctx context.Context, teacherID, studentID int64) (bool, error) {
	var n int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM class_memberships WHERE teacher_id = ? AND student_id = ?`,
		teacherID, studentID,
	).Scan(&n)
	return n > 0, err
}

// ListClassMembers returns memberships matching the filter, in join order.
func (q *Queries) ListClassMembers(ctx context.Context, f MembershipFilter) ([]model.ClassMembership, error) {
	query := membershipSelect + ` WHERE 1=1`
	var args []any
	if f.TeacherID != 0 {
		query += ` AND m.teacher_id = ?`
		args = append(args, f.TeacherID)
	}
	if f.StudentID != 0 {
		query += ` AND m.student_id = ?`
		args = append(args, f.StudentID)
	}
	query += ` ORDER BY m.joined_at, m.student_id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []model.ClassMembership
	for rows.Next() {
		var m model.ClassMembership
		if err := rows.Scan(&m.TeacherID, &m.TeacherName, &m.StudentID, &m.StudentName, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveClassMember takes a student out of a teacher's class. It reports
// false if the student was not a member.
func (q *Queries) RemoveClassMember(ctx context.Context, teacherID, studentID int64) (bool, error) {
	res, err := q.exec(ctx,
		`DELETE FROM class_memberships WHERE teacher_id = ? AND student_id = ?`,
		teacherID, studentID,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}
