package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/scoring"
	"github.com/pavelanni/pruefungstipp/internal/store"
)

// PredictionService records student predictions and scores them against
// recorded grades.
type PredictionService struct {
	store  *store.Store
	policy model.Policy
}

// NewPredictionService creates a PredictionService.
func NewPredictionService(s *store.Store, p model.Policy) *PredictionService {
	return &PredictionService{store: s, policy: p}
}

// Submit creates or updates the single prediction of a student for an exam.
// Each supplied prediction slot is stored and, when the student already has a
// grade, scored immediately. Explicit points replace the computed ones.
// The boolean result reports whether a new prediction was created.
func (s *PredictionService) Submit(ctx context.Context, examID, studentID int64, in model.PredictionInput) (*model.Prediction, bool, error) {
	var (
		result  *model.Prediction
		created bool
	)
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		exam, err := q.LockExam(ctx, examID)
		if err != nil {
			return fmt.Errorf("get exam %d: %w", examID, err)
		}
		if _, err := apperr.Require(exam, "Exam", examID); err != nil {
			return err
		}
		student, err := q.GetUserByID(ctx, studentID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", studentID, err)
		}
		if _, err := apperr.Require(student, "User", studentID); err != nil {
			return err
		}
		if exam.IsClosed {
			return apperr.Conflict("ExamClosed")
		}
		if s.policy.RequireStudentRole && student.Role != model.UserRoleStudent {
			return apperr.Invalid("OnlyStudentsPredict", apperr.FieldError{Field: "studentId", Tag: "role"})
		}
		if err := checkPrediction(in); err != nil {
			return err
		}

		p, err := q.FindPrediction(ctx, examID, studentID)
		if err != nil {
			return fmt.Errorf("find prediction: %w", err)
		}
		if p == nil {
			p = &model.Prediction{ExamID: examID, StudentID: studentID}
			created = true
		}
		apply(p, in, exam.Grade(studentID))

		if created {
			id, err := q.InsertPrediction(ctx, *p)
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("PredictionExists")
			}
			if err != nil {
				return fmt.Errorf("insert prediction: %w", err)
			}
			p.ID = id
		} else if err := q.UpdatePrediction(ctx, *p); err != nil {
			return fmt.Errorf("update prediction %d: %w", p.ID, err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	slog.Info("prediction submitted",
		"id", result.ID, "exam", examID, "student", studentID, "created", created)
	return result, created, nil
}

func checkPrediction(in model.PredictionInput) error {
	var fields []apperr.FieldError
	for _, slot := range []struct {
		name string
		v    *float64
	}{{"prediction1", in.Prediction1}, {"prediction2", in.Prediction2}} {
		if slot.v != nil && !scoring.ValidGrade(*slot.v) {
			fields = append(fields, apperr.FieldError{Field: slot.name, Tag: "grade"})
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid("PredictionOutOfRange", fields...)
	}
	for _, slot := range []struct {
		name string
		v    *int
	}{{"points1", in.Points1}, {"points2", in.Points2}} {
		if slot.v != nil && !scoring.ValidPoints(*slot.v) {
			fields = append(fields, apperr.FieldError{Field: slot.name, Tag: "points"})
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid("PointsOutOfRange", fields...)
	}
	return nil
}

func apply(p *model.Prediction, in model.PredictionInput, grade *float64) {
	if in.Prediction1 != nil {
		p.Prediction1 = ptr(*in.Prediction1)
		if grade != nil {
			p.Points1 = scoring.Points(p.Prediction1, grade)
		}
	}
	if in.Prediction2 != nil {
		p.Prediction2 = ptr(*in.Prediction2)
		if grade != nil {
			p.Points2 = scoring.Points(p.Prediction2, grade)
		}
	}
	if in.Points1 != nil {
		p.Points1 = ptr(*in.Points1)
	}
	if in.Points2 != nil {
		p.Points2 = ptr(*in.Points2)
	}
}

func ptr[T any](v T) *T { return &v }

// List returns every prediction.
func (s *PredictionService) List(ctx context.Context) ([]model.Prediction, error) {
	ps, err := s.store.ListPredictions(ctx, store.PredictionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return ps, nil
}

// Get returns a prediction by ID.
func (s *PredictionService) Get(ctx context.Context, id int64) (*model.Prediction, error) {
	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get prediction %d: %w", id, err)
	}
	return apperr.Require(p, "Prediction", id)
}

// ForExamAndStudent returns the prediction a student made for an exam, or
// nil if the student has not predicted yet.
func (s *PredictionService) ForExamAndStudent(ctx context.Context, examID, studentID int64) (*model.Prediction, error) {
	if err := s.requireExam(ctx, examID); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, studentID); err != nil {
		return nil, err
	}
	p, err := s.store.FindPrediction(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("find prediction: %w", err)
	}
	return p, nil
}

// ForExam lists all predictions for one exam.
func (s *PredictionService) ForExam(ctx context.Context, examID int64) ([]model.Prediction, error) {
	if err := s.requireExam(ctx, examID); err != nil {
		return nil, err
	}
	ps, err := s.store.ListPredictions(ctx, store.PredictionFilter{ExamID: examID})
	if err != nil {
		return nil, fmt.Errorf("list predictions for exam %d: %w", examID, err)
	}
	return ps, nil
}

// ForStudent lists all predictions by one student.
func (s *PredictionService) ForStudent(ctx context.Context, studentID int64) ([]model.Prediction, error) {
	if err := s.requireUser(ctx, studentID); err != nil {
		return nil, err
	}
	ps, err := s.store.ListPredictions(ctx, store.PredictionFilter{StudentID: studentID})
	if err != nil {
		return nil, fmt.Errorf("list predictions for student %d: %w", studentID, err)
	}
	return ps, nil
}

// Delete removes a prediction.
func (s *PredictionService) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeletePrediction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete prediction %d: %w", id, err)
	}
	if !ok {
		return apperr.NotFound("Prediction", id)
	}
	return nil
}

// Leaderboard ranks students by their points over closed exams.
func (s *PredictionService) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	entries, err := s.store.StudentTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("student totals: %w", err)
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *PredictionService) requireExam(ctx context.Context, id int64) error {
	e, err := s.store.GetExam(ctx, id)
	if err != nil {
		return fmt.Errorf("get exam %d: %w", id, err)
	}
	_, err = apperr.Require(e, "Exam", id)
	return err
}

func (s *PredictionService) requireUser(ctx context.Context, id int64) error {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get user %d: %w", id, err)
	}
	_, err = apperr.Require(u, "User", id)
	return err
}
