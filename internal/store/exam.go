package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

const examColumns = `id, title, subject, description, date, is_closed`

// ExamFilter narrows ListExams. A nil Closed lists every exam.
type ExamFilter struct {
	Closed *bool
}

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	var e model.Exam
	if err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.Description, &e.Date, &e.IsClosed); err != nil {
		return nil, err
	}
	e.Grades = make(map[int64]float64)
	return &e, nil
}

// CreateExam inserts an exam together with its grades.
func (q *Queries) CreateExam(ctx context.Context, e model.Exam) (int64, error) {
	id, err := q.insert(ctx,
		`INSERT INTO exams (title, subject, description, date, is_closed) VALUES (?, ?, ?, ?, ?)`,
		e.Title, e.Subject, e.Description, e.Date, e.IsClosed,
	)
	if err != nil {
		return 0, err
	}
	if len(e.Grades) > 0 {
		if err := q.ReplaceGrades(ctx, id, e.Grades); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetExam returns an exam with its grades, or nil if there is none.
func (q *Queries) GetExam(ctx context.Context, id int64) (*model.Exam, error) {
	return q.getExam(ctx, `SELECT `+examColumns+` FROM exams WHERE id = ?`, id)
}

// LockExam is GetExam that also holds the exam row until the transaction ends.
// SQLite transactions already own the database write lock, so only Postgres
// needs the explicit row lock.
func (q *Queries) LockExam(ctx context.Context, id int64) (*model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams WHERE id = ?`
	if q.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	return q.getExam(ctx, query, id)
}

func (q *Queries) getExam(ctx context.Context, query string, id int64) (*model.Exam, error) {
	e, err := scanExam(q.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	grades, err := q.gradesFor(ctx, `WHERE exam_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if g, ok := grades[e.ID]; ok {
		e.Grades = g
	}
	return e, nil
}

// ListExams returns exams ordered by date, newest first.
func (q *Queries) ListExams(ctx context.Context, f ExamFilter) ([]model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams`
	var args []any
	if f.Closed != nil {
		query += ` WHERE is_closed = ?`
		args = append(args, *f.Closed)
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	grades, err := q.gradesFor(ctx, ``)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		if g, ok := grades[exams[i].ID]; ok {
			exams[i].Grades = g
		}
	}
	return exams, nil
}

func (q *Queries) gradesFor(ctx context.Context, where string, args ...any) (map[int64]map[int64]float64, error) {
	rows, err := q.query(ctx, `SELECT exam_id, student_id, grade FROM exam_grades `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]map[int64]float64)
	for rows.Next() {
		var examID, studentID int64
		var grade float64
		if err := rows.Scan(&examID, &studentID, &grade); err != nil {
			return nil, err
		}
		if out[examID] == nil {
			out[examID] = make(map[int64]float64)
		}
		out[examID][studentID] = grade
	}
	return out, rows.Err()
}

// UpdateExam writes the scalar fields of an existing exam.
func (q *Queries) UpdateExam(ctx context.Context, e model.Exam) error {
	_, err := q.exec(ctx,
		`UPDATE exams SET title = ?, subject = ?, description = ?, date = ?, is_closed = ? WHERE id = ?`,
		e.Title, e.Subject, e.Description, e.Date, e.IsClosed, e.ID,
	)
	return err
}

// ReplaceGrades swaps the whole grade mapping of an exam.
func (q *Queries) ReplaceGrades(ctx context.Context, examID int64, grades map[int64]float64) error {
	if _, err := q.exec(ctx, `DELETE FROM exam_grades WHERE exam_id = ?`, examID); err != nil {
		return err
	}
	for studentID, grade := range grades {
		_, err := q.exec(ctx,
			`INSERT INTO exam_grades (exam_id, student_id, grade) VALUES (?, ?, ?)`,
			examID, studentID, grade,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteExam removes an exam; grades and predictions go with it.
// It reports false if no such exam existed.
func (q *Queries) DeleteExam(ctx context.Context, id int64) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM exams WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ExamCount returns the number of exams.
func (q *Queries) ExamCount(ctx context.Context) (int, error) {
	var count int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}
