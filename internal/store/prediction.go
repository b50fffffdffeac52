package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

const predictionColumns = `id, exam_id, student_id, prediction1, prediction2, points1, points2`

// PredictionFilter narrows ListPredictions. Zero IDs match everything.
type PredictionFilter struct {
	ExamID    int64
	StudentID int64
}

func scanPrediction(row interface{ Scan(...any) error }) (*model.Prediction, error) {
	var (
		p                model.Prediction
		pred1, pred2     sql.NullFloat64
		points1, points2 sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.ExamID, &p.StudentID, &pred1, &pred2, &points1, &points2); err != nil {
		return nil, err
	}
	p.Prediction1 = nullFloat(pred1)
	p.Prediction2 = nullFloat(pred2)
	p.Points1 = nullInt(points1)
	p.Points2 = nullInt(points2)
	return &p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// InsertPrediction stores a new prediction. Returns ErrDuplicate if the
// (exam, student) pair already has one.
func (q *Queries) InsertPrediction(ctx context.Context, p model.Prediction) (int64, error) {
	return q.insert(ctx,
		`INSERT INTO predictions (exam_id, student_id, prediction1, prediction2, points1, points2)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ExamID, p.StudentID, p.Prediction1, p.Prediction2, p.Points1, p.Points2,
	)
}

// UpdatePrediction writes the values and points of an existing prediction.
// The exam and student binding never changes.
func (q *Queries) UpdatePrediction(ctx context.Context, p model.Prediction) error {
	_, err := q.exec(ctx,
		`UPDATE predictions SET prediction1 = ?, prediction2 = ?, points1 = ?, points2 = ? WHERE id = ?`,
		p.Prediction1, p.Prediction2, p.Points1, p.Points2, p.ID,
	)
	return err
}

// GetPrediction returns a prediction by ID, or nil if there is none.
func (q *Queries) GetPrediction(ctx context.Context, id int64) (*model.Prediction, error) {
	p, err := scanPrediction(q.queryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// FindPrediction returns the prediction for an (exam, student) pair, or nil.
func (q *Queries) FindPrediction(ctx context.Context, examID, studentID int64) (*model.Prediction, error) {
	p, err := scanPrediction(q.queryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE exam_id = ? AND student_id = ?`,
		examID, studentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPredictions returns predictions matching the filter, oldest first.
func (q *Queries) ListPredictions(ctx context.Context, f PredictionFilter) ([]model.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE 1=1`
	var args []any
	if f.ExamID != 0 {
		query += ` AND exam_id = ?`
		args = append(args, f.ExamID)
	}
	if f.StudentID != 0 {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	query += ` ORDER BY id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// DeletePrediction removes a prediction. It reports false if none existed.
func (q *Queries) DeletePrediction(ctx context.Context, id int64) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM predictions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}
