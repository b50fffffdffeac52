package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

// ExportExams builds export-ready results for one exam, or all exams when examID is 0.
func (s *Store) ExportExams(ctx context.Context, examID int64) (*model.ExamExport, error) {
	var exams []model.Exam
	if examID != 0 {
		e, err := s.GetExam(ctx, examID)
		if err != nil {
			return nil, fmt.Errorf("get exam %d: %w", examID, err)
		}
		if e == nil {
			return nil, fmt.Errorf("exam %d not found", examID)
		}
		exams = append(exams, *e)
	} else {
		var err error
		exams, err = s.ListExams(ctx, ExamFilter{})
		if err != nil {
			return nil, fmt.Errorf("list exams: %w", err)
		}
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	export := &model.ExamExport{GeneratedAt: time.Now().UTC()}
	for _, e := range exams {
		predictions, err := s.ListPredictions(ctx, PredictionFilter{ExamID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("list predictions for exam %d: %w", e.ID, err)
		}

		result := model.ExamResult{
			ID:       e.ID,
			Title:    e.Title,
			Subject:  e.Subject,
			Date:     e.Date,
			IsClosed: e.IsClosed,
		}
		seen := make(map[int64]bool, len(predictions))
		for _, p := range predictions {
			seen[p.StudentID] = true
			result.Predictions = append(result.Predictions, model.StudentResult{
				StudentID:   p.StudentID,
				Username:    names[p.StudentID],
				Grade:       e.Grade(p.StudentID),
				Prediction1: p.Prediction1,
				Prediction2: p.Prediction2,
				Points1:     p.Points1,
				Points2:     p.Points2,
				TotalPoints: p.TotalPoints(),
			})
		}
		// Graded students who never predicted still show up with their grade.
		var unpredicted []int64
		for studentID := range e.Grades {
			if !seen[studentID] {
				unpredicted = append(unpredicted, studentID)
			}
		}
		slices.Sort(unpredicted)
		for _, studentID := range unpredicted {
			result.Predictions = append(result.Predictions, model.StudentResult{
				StudentID: studentID,
				Username:  names[studentID],
				Grade:     e.Grade(studentID),
			})
		}
		export.Exams = append(export.Exams, result)
	}
	return export, nil
}
