package model

import "time"

// ExamExport is the top-level JSON structure for the results export.
type ExamExport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Exams       []ExamResult `json:"exams"`
}

// ExamResult holds one exam with its recorded grades and predictions.
type ExamResult struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Subject     string          `json:"subject"`
	Date        Date            `json:"date"`
	IsClosed    bool            `json:"is_closed"`
	Predictions []StudentResult `json:"predictions"`
}

// StudentResult holds one student's prediction and grade for export.
type StudentResult struct {
	StudentID   int64    `json:"student_id"`
	Username    string   `json:"username"`
	Grade       *float64 `json:"grade,omitempty"`
	Prediction1 *float64 `json:"prediction1,omitempty"`
	Prediction2 *float64 `json:"prediction2,omitempty"`
	Points1     *int     `json:"points1,omitempty"`
	Points2     *int     `json:"points2,omitempty"`
	TotalPoints int      `json:"total_points"`
}
