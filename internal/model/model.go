package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent may submit predictions.
	UserRoleStudent UserRole = "STUDENT"
	// UserRoleTeacher manages exams and records grades.
	UserRoleTeacher UserRole = "TEACHER"
)

// ParseUserRole normalizes a role name; it accepts any letter case.
func ParseUserRole(s string) (UserRole, bool) {
	switch UserRole(strings.ToUpper(strings.TrimSpace(s))) {
	case UserRoleStudent:
		return UserRoleStudent, true
	case UserRoleTeacher:
		return UserRoleTeacher, true
	}
	return "", false
}

// User represents a system user. The password hash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate returns the date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// Before reports whether d is an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.String() < other.String()
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner. SQLite hands back text, Postgres a time.Time.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

func (d *Date) scanString(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Exam is a gradeable event students predict outcomes for.
// Grades maps student IDs to the recorded grade.
type Exam struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Date        Date              `json:"date"`
	IsClosed    bool              `json:"isClosed"`
	Grades      map[int64]float64 `json:"grades"`
}

// Grade returns the recorded grade for a student, or nil.
func (e *Exam) Grade(studentID int64) *float64 {
	g, ok := e.Grades[studentID]
	if !ok {
		return nil
	}
	return &g
}

// Prediction is one student's forecast for one exam.
type Prediction struct {
	ID          int64    `json:"id"`
	ExamID      int64    `json:"examId"`
	StudentID   int64    `json:"studentId"`
	Prediction1 *float64 `json:"prediction1"`
	Prediction2 *float64 `json:"prediction2"`
	Points1     *int     `json:"points1"`
	Points2     *int     `json:"points2"`
}

// TotalPoints sums both slots; missing points count as zero.
func (p *Prediction) TotalPoints() int {
	total := 0
	if p.Points1 != nil {
		total += *p.Points1
	}
	if p.Points2 != nil {
		total += *p.Points2
	}
	return total
}

// LeaderboardEntry is one student's standing across closed exams.
type LeaderboardEntry struct {
	StudentID   int64  `json:"studentId"`
	StudentName string `json:"studentName"`
	TotalPoints int    `json:"totalPoints"`
	Rank        int    `json:"rank"`
}

// Policy holds the behavior toggles set via CLI flags.
type Policy struct {
	RejectPastExamDates bool // refuse exam dates before today on create/update
	RequireStudentRole  bool // only students may submit predictions
	StrictValidation    bool // reject blank fields and check uniqueness on update
}

// DefaultPolicy is used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{RequireStudentRole: true, StrictValidation: true}
}

// UserInput is the payload for creating a user.
type UserInput struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=STUDENT TEACHER student teacher"`
}

// UserUpdate is the payload for updating a user. An empty password keeps the old one.
type UserUpdate struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
}

// ExamInput is the payload for creating or updating an exam. A nil Grades map
// leaves recorded grades untouched on update.
type ExamInput struct {
	Title       string            `json:"title" validate:"required"`
	Subject     string            `json:"subject" validate:"required"`
	Description string            `json:"description"`
	Date        *Date             `json:"date" validate:"required"`
	IsClosed    bool              `json:"isClosed"`
	Grades      map[int64]float64 `json:"grades"`
}

// PredictionInput is the payload of a submission. Nil fields are left alone.
type PredictionInput struct {
	Prediction1 *float64 `json:"prediction1"`
	Prediction2 *float64 `json:"prediction2"`
	Points1     *int     `json:"points1"`
	Points2     *int     `json:"points2"`
}

// ClassRequestStatus is the state of a join request.
type ClassRequestStatus string

const (
	ClassRequestPending  ClassRequestStatus = "PENDING"
	ClassRequestApproved ClassRequestStatus = "APPROVED"
	ClassRequestRejected ClassRequestStatus = "REJECTED"
)

// ParseClassRequestStatus normalizes a status name; it accepts any letter case.
func ParseClassRequestStatus(s string) (ClassRequestStatus, bool) {
	switch st := ClassRequestStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case ClassRequestPending, ClassRequestApproved, ClassRequestRejected:
		return st, true
	}
	return "", false
}

// ClassMembership places a student in a teacher's class.
type ClassMembership struct {
	TeacherID   int64     `json:"teacherId"`
	TeacherName string    `json:"teacherName"`
	StudentID   int64     `json:"studentId"`
	StudentName string    `json:"studentName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ClassRequest is a student's request to join a teacher's class.
// RespondedAt is set once the teacher approves or rejects it.
type ClassRequest struct {
	ID           int64              `json:"id"`
	StudentID    int64              `json:"studentId"`
	StudentName  string             `json:"studentName"`
	StudentEmail string             `json:"studentEmail"`
	TeacherID    int64              `json:"teacherId"`
	TeacherEmail string             `json:"teacherEmail"`
	Status       ClassRequestStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	RespondedAt  *time.Time         `json:"respondedAt"`
}

// ClassRequestInput is the payload a student sends to join a class.
type ClassRequestInput struct {
	TeacherEmail string `json:"teacherEmail" validate:"required,email"`
}

// ClassResponseInput is the teacher's answer to a join request.
type ClassResponseInput struct {
	Status string `json:"status" validate:"required"`
}
