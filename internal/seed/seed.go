// Package seed fills an empty database with demo accounts and an exam.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/service"
	"github.com/pavelanni/pruefungstipp/internal/store"
)

type demoUser struct {
	username, email, password string
	role                      model.UserRole
}

var demoUsers = []demoUser{
	{"Schüler1", "schueler1@test.ch", "schueler1", model.UserRoleStudent},
	{"Schüler2", "schueler2@test.ch", "schueler2", model.UserRoleStudent},
	{"Lehrer", "lehrer@test.ch", "lehrer", model.UserRoleTeacher},
}

var demoExam = model.Exam{
	Title:       "Proportionalität",
	Subject:     "Mathematik",
	Description: "Prüfung über Proportionalität",
	Date:        model.NewDate(2025, 11, 6),
}

// Options tunes seeding.
type Options struct {
	HashCost int // bcrypt cost; 0 means bcrypt.DefaultCost
}

// Run seeds users when the users table is empty and the demo exam when the
// exams table is empty. Seeded students join the seeded teacher's class. It writes directly to the store so the exam date
// policy does not apply.
func Run(ctx context.Context, s *store.Store, opts Options) error {
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return s.InTx(ctx, func(q *store.Queries) error {
		users, err := q.UserCount(ctx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if users == 0 {
			var teacherID int64
			var studentIDs []int64
			for _, u := range demoUsers {
				hash, err := service.HashPassword(u.password, cost)
				if err != nil {
					return err
				}
				id, err := q.CreateUser(ctx, model.User{
					Username:     u.username,
					Email:        u.email,
					PasswordHash: hash,
					Role:         u.role,
				})
				if err != nil {
					return fmt.Errorf("seed user %s: %w", u.username, err)
				}
				if u.role == model.UserRoleTeacher {
					teacherID = id
				} else {
					studentIDs = append(studentIDs, id)
				}
			}
			for _, id := range studentIDs {
				if _, err := q.AddClassMember(ctx, teacherID, id); err != nil {
					return fmt.Errorf("seed class member %d: %w", id, err)
				}
			}
			slog.Warn("seeded demo users with well-known passwords", "count", len(demoUsers))
		}

		exams, err := q.ExamCount(ctx)
		if err != nil {
			return fmt.Errorf("count exams: %w", err)
		}
		if exams == 0 {
			id, err := q.CreateExam(ctx, demoExam)
			if err != nil {
				return fmt.Errorf("seed exam: %w", err)
			}
			slog.Info("seeded demo exam", "id", id, "title", demoExam.Title)
		}

		if users == 0 || exams == 0 {
			if err := q.SetMetadata(ctx, store.MetaSeededAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("record seed time: %w", err)
			}
		}
		return nil
	})
}
