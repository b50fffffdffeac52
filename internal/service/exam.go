package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/store"
	"github.com/pavelanni/pruefungstipp/internal/validate"
)

// ExamService implements the exam lifecycle: open exams may be edited and
// closed, and closing is a one-way transition.
type ExamService struct {
	store    *store.Store
	validate *validate.Validator
	policy   model.Policy
	now      func() time.Time
}

// NewExamService creates an ExamService.
func NewExamService(s *store.Store, v *validate.Validator, p model.Policy) *ExamService {
	return &ExamService{store: s, validate: v, policy: p, now: time.Now}
}

// List returns all exams, newest date first.
func (s *ExamService) List(ctx context.Context) ([]model.Exam, error) {
	return s.list(ctx, store.ExamFilter{})
}

// ListOpen returns exams that still accept predictions, newest date first.
func (s *ExamService) ListOpen(ctx context.Context) ([]model.Exam, error) {
	closed := false
	return s.list(ctx, store.ExamFilter{Closed: &closed})
}

// ListClosed returns graded exams, newest date first.
func (s *ExamService) ListClosed(ctx context.Context) ([]model.Exam, error) {
	closed := true
	return s.list(ctx, store.ExamFilter{Closed: &closed})
}

func (s *ExamService) list(ctx context.Context, f store.ExamFilter) ([]model.Exam, error) {
	exams, err := s.store.ListExams(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// Get returns an exam by ID.
func (s *ExamService) Get(ctx context.Context, id int64) (*model.Exam, error) {
	e, err := s.store.GetExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get exam %d: %w", id, err)
	}
	return apperr.Require(e, "Exam", id)
}

// Create stores a new open exam with no grades.
func (s *ExamService) Create(ctx context.Context, in model.ExamInput) (*model.Exam, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	e := model.Exam{
		Title:       strings.TrimSpace(in.Title),
		Subject:     strings.TrimSpace(in.Subject),
		Description: in.Description,
		Date:        *in.Date,
		Grades:      map[int64]float64{},
	}
	id, err := s.store.CreateExam(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	e.ID = id
	slog.Info("created exam", "id", id, "title", e.Title, "date", e.Date)
	return &e, nil
}

// Update replaces the exam's fields. Grades are replaced wholesale when
// in.Grades is non-nil. A closed exam cannot be reopened.
func (s *ExamService) Update(ctx context.Context, id int64, in model.ExamInput) (*model.Exam, error) {
	if err := s.checkInput(in); err != nil {
		return nil, err
	}
	var updated *model.Exam
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		e, err := q.LockExam(ctx, id)
		if err != nil {
			return fmt.Errorf("get exam %d: %w", id, err)
		}
		if _, err := apperr.Require(e, "Exam", id); err != nil {
			return err
		}
		if e.IsClosed && !in.IsClosed {
			return apperr.Conflict("ExamReopen")
		}

		e.Title = strings.TrimSpace(in.Title)
		e.Subject = strings.TrimSpace(in.Subject)
		e.Description = in.Description
		e.Date = *in.Date
		e.IsClosed = in.IsClosed
		if err := q.UpdateExam(ctx, *e); err != nil {
			return fmt.Errorf("update exam %d: %w", id, err)
		}

		if in.Grades != nil {
			for studentID := range in.Grades {
				u, err := q.GetUserByID(ctx, studentID)
				if err != nil {
					return fmt.Errorf("get user %d: %w", studentID, err)
				}
				if _, err := apperr.Require(u, "User", studentID); err != nil {
					return err
				}
			}
			if err := q.ReplaceGrades(ctx, id, in.Grades); err != nil {
				return fmt.Errorf("replace grades of exam %d: %w", id, err)
			}
			e.Grades = copyGrades(in.Grades)
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("updated exam", "id", id, "closed", updated.IsClosed, "grades", len(updated.Grades))
	return updated, nil
}

// Close moves an open exam to closed. Closing a closed exam is a conflict.
func (s *ExamService) Close(ctx context.Context, id int64) (*model.Exam, error) {
	var closed *model.Exam
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		e, err := q.LockExam(ctx, id)
		if err != nil {
			return fmt.Errorf("get exam %d: %w", id, err)
		}
		if _, err := apperr.Require(e, "Exam", id); err != nil {
			return err
		}
		if e.IsClosed {
			return apperr.Conflict("ExamAlreadyClosed")
		}
		e.IsClosed = true
		if err := q.UpdateExam(ctx, *e); err != nil {
			return fmt.Errorf("close exam %d: %w", id, err)
		}
		closed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("closed exam", "id", id)
	return closed, nil
}

// Delete removes an exam.
func (s *ExamService) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteExam(ctx, id)
	if err != nil {
		return fmt.Errorf("delete exam %d: %w", id, err)
	}
	if !ok {
		return apperr.NotFound("Exam", id)
	}
	slog.Info("deleted exam", "id", id)
	return nil
}

func (s *ExamService) checkInput(in model.ExamInput) error {
	if s.policy.StrictValidation {
		if err := s.validate.Struct(in); err != nil {
			return err
		}
		if strings.TrimSpace(in.Title) == "" {
			return apperr.Invalid("TitleRequired", apperr.FieldError{Field: "title", Tag: "required"})
		}
		if strings.TrimSpace(in.Subject) == "" {
			return apperr.Invalid("SubjectRequired", apperr.FieldError{Field: "subject", Tag: "required"})
		}
		var fields []apperr.FieldError
		for _, g := range in.Grades {
			if fe := s.validate.Var("grades", g, "grade"); fe != nil {
				fields = append(fields, *fe)
				break
			}
		}
		if len(fields) > 0 {
			return apperr.Invalid("ValidationFailed", fields...)
		}
	}
	if in.Date == nil {
		return apperr.Invalid("DateRequired", apperr.FieldError{Field: "date", Tag: "required"})
	}
	if s.policy.RejectPastExamDates {
		now := s.now()
		today := model.NewDate(now.Year(), now.Month(), now.Day())
		if in.Date.Before(today) {
			return apperr.Invalid("ExamDateInPast", apperr.FieldError{Field: "date", Tag: "future"})
		}
	}
	return nil
}

func copyGrades(in map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
