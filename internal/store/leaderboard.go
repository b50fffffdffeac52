package store

import (
	"context"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

// StudentTotals sums points1 + points2 over closed exams for every student,
// highest total first. Students without predictions appear with zero.
func (q *Queries) StudentTotals(ctx context.Context) ([]model.LeaderboardEntry, error) {
	rows, err := q.query(ctx,
		`SELECT u.id, u.username,
		        COALESCE(SUM(CASE WHEN e.is_closed THEN COALESCE(p.points1, 0) + COALESCE(p.points2, 0) ELSE 0 END), 0)
		 FROM users u
		 LEFT JOIN predictions p ON p.student_id = u.id
		 LEFT JOIN exams e ON e.id = p.exam_id
		 WHERE u.role = ?
		 GROUP BY u.id, u.username
		 ORDER BY 3 DESC, u.username ASC`,
		model.UserRoleStudent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.StudentID, &e.StudentName, &e.TotalPoints); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
