package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/store"
	"github.com/pavelanni/pruefungstipp/internal/validate"
)

// ClassService manages teachers' classes. Students ask to join by teacher
// email; an approved request adds the student to the class.
type ClassService struct {
	store    *store.Store
	validate *validate.Validator
	policy   model.Policy
	now      func() time.Time
}

// NewClassService creates a ClassService.
func NewClassService(s *store.Store, v *validate.Validator, p model.Policy) *ClassService {
	return &ClassService{store: s, validate: v, policy: p, now: time.Now}
}

// Request files a join request from a student to the teacher with the given
// email. An existing pending request is returned unchanged. The boolean result
// reports whether a new request was created.
func (s *ClassService) Request(ctx context.Context, studentID int64, in model.ClassRequestInput) (*model.ClassRequest, bool, error) {
	in.TeacherEmail = strings.ToLower(strings.TrimSpace(in.TeacherEmail))
	if s.policy.StrictValidation {
		if err := s.validate.Struct(in); err != nil {
			return nil, false, err
		}
	} else if err := requireFields("teacherEmail", in.TeacherEmail); err != nil {
		return nil, false, err
	}

	var (
		result  *model.ClassRequest
		created bool
	)
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		student, err := q.GetUserByID(ctx, studentID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", studentID, err)
		}
		if _, err := apperr.Require(student, "User", studentID); err != nil {
			return err
		}
		if s.policy.RequireStudentRole && student.Role != model.UserRoleStudent {
			return apperr.Invalid("OnlyStudentsJoin", apperr.FieldError{Field: "studentId", Tag: "role"})
		}
		teacher, err := q.GetUserByEmail(ctx, in.TeacherEmail)
		if err != nil {
			return fmt.Errorf("get user by email: %w", err)
		}
		if _, err := apperr.Require(teacher, "User", in.TeacherEmail); err != nil {
			return err
		}
		if teacher.Role != model.UserRoleTeacher || teacher.ID == student.ID {
			return apperr.Invalid("NotATeacher", apperr.FieldError{Field: "teacherEmail", Tag: "role"})
		}
		member, err := q.IsClassMember(ctx, teacher.ID, student.ID)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if member {
			return apperr.Conflict("AlreadyInClass")
		}

		existing, err := q.FindPendingClassRequest(ctx, student.ID, teacher.ID)
		if err != nil {
			return fmt.Errorf("find class request: %w", err)
		}
		if existing != nil {
			result = existing
			return nil
		}
		id, err := q.CreateClassRequest(ctx, student.ID, teacher.ID)
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.Conflict("ClassRequestExists")
		}
		if err != nil {
			return fmt.Errorf("create class request: %w", err)
		}
		created = true
		result, err = q.GetClassRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("get class request %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		slog.Info("class request created", "id", result.ID, "student", studentID, "teacher", result.TeacherID)
	}
	return result, created, nil
}

// Respond approves or rejects a pending request addressed to teacherID.
// Approval adds the student to the class. A request can be answered once.
func (s *ClassService) Respond(ctx context.Context, teacherID, requestID int64, in model.ClassResponseInput) (*model.ClassRequest, error) {
	status, ok := model.ParseClassRequestStatus(in.Status)
	if !ok || status == model.ClassRequestPending {
		return nil, apperr.Invalid("InvalidRequestStatus", apperr.FieldError{Field: "status", Tag: "oneof"})
	}

	var result *model.ClassRequest
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		r, err := q.GetClassRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("get class request %d: %w", requestID, err)
		}
		if r == nil || r.TeacherID != teacherID {
			return apperr.NotFound("ClassRequest", requestID)
		}
		if r.Status != model.ClassRequestPending {
			return apperr.Conflict("RequestAlreadyAnswered")
		}
		if err := q.SetClassRequestStatus(ctx, r.ID, status, s.now()); err != nil {
			return fmt.Errorf("update class request %d: %w", r.ID, err)
		}
		if status == model.ClassRequestApproved {
			if _, err := q.AddClassMember(ctx, r.TeacherID, r.StudentID); err != nil {
				return fmt.Errorf("add class member: %w", err)
			}
		}
		result, err = q.GetClassRequest(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("get class request %d: %w", r.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("class request answered", "id", requestID, "teacher", teacherID, "status", status)
	return result, nil
}

// RequestsForTeacher lists requests addressed to a teacher. An empty status
// lists all of them.
func (s *ClassService) RequestsForTeacher(ctx context.Context, teacherID int64, status string) ([]model.ClassRequest, error) {
	f := store.ClassRequestFilter{TeacherID: teacherID}
	if status != "" {
		st, ok := model.ParseClassRequestStatus(status)
		if !ok {
			return nil, apperr.Invalid("InvalidRequestStatus", apperr.FieldError{Field: "status", Tag: "oneof"})
		}
		f.Status = st
	}
	if err := s.requireUser(ctx, teacherID); err != nil {
		return nil, err
	}
	rs, err := s.store.ListClassRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list class requests for teacher %d: %w", teacherID, err)
	}
	return rs, nil
}

// RequestsForStudent lists the requests a student has made.
func (s *ClassService) RequestsForStudent(ctx context.Context, studentID int64) ([]model.ClassRequest, error) {
	if err := s.requireUser(ctx, studentID); err != nil {
		return nil, err
	}
	rs, err := s.store.ListClassRequests(ctx, store.ClassRequestFilter{StudentID: studentID})
	if err != nil {
		return nil, fmt.Errorf("list class requests for student %d: %w", studentID, err)
	}
	return rs, nil
}

// Members lists the students in a teacher's class.
func (s *ClassService) Members(ctx context.Context, teacherID int64) ([]model.ClassMembership, error) {
	if err := s.requireUser(ctx, teacherID); err != nil {
		return nil, err
	}
	ms, err := s.store.ListClassMembers(ctx, store.MembershipFilter{TeacherID: teacherID})
	if err != nil {
		return nil, fmt.Errorf("list class members of %d: %w", teacherID, err)
	}
	return ms, nil
}

// ClassesOf lists the classes a student belongs to.
func (s *ClassService) ClassesOf(ctx context.Context, studentID int64) ([]model.ClassMembership, error) {
	if err := s.requireUser(ctx, studentID); err != nil {
		return nil, err
	}
	ms, err := s.store.ListClassMembers(ctx, store.MembershipFilter{StudentID: studentID})
	if err != nil {
		return nil, fmt.Errorf("list classes of %d: %w", studentID, err)
	}
	return ms, nil
}

// RemoveMember takes a student out of a teacher's class.
func (s *ClassService) RemoveMember(ctx context.Context, teacherID, studentID int64) error {
	ok, err := s.store.RemoveClassMember(ctx, teacherID, studentID)
	if err != nil {
		return fmt.Errorf("remove class member: %w", err)
	}
	if !ok {
		return apperr.NotFound("ClassMembership", fmt.Sprintf("%d/%d", teacherID, studentID))
	}
	slog.Info("removed class member", "teacher", teacherID, "student", studentID)
	return nil
}

func (s *ClassService) requireUser(ctx context.Context, id int64) error {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get user %d: %w", id, err)
	}
	_, err = apperr.Require(u, "User", id)
	return err
}
