package service

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/store"
	"github.com/pavelanni/pruefungstipp/internal/validate"
)

type fixture struct {
	store       *store.Store
	exams       *ExamService
	predictions *PredictionService
	users       *UserService
	classes     *ClassService
}

func newFixture(t *testing.T, policy model.Policy) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	v := validate.MustNew()
	users := NewUserService(s, v, policy)
	users.hashCost = bcrypt.MinCost
	return &fixture{
		store:       s,
		exams:       NewExamService(s, v, policy),
		predictions: NewPredictionService(s, policy),
		users:       users,
		classes:     NewClassService(s, v, policy),
	}
}

func (f *fixture) user(t *testing.T, name string, role model.UserRole) *model.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), model.UserInput{
		Username: name,
		Email:    name + "@test.ch",
		Password: name,
		Role:     string(role),
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *fixture) exam(t *testing.T, title string) *model.Exam {
	t.Helper()
	d := model.NewDate(2025, 11, 6)
	e, err := f.exams.Create(context.Background(), model.ExamInput{
		Title:   title,
		Subject: "Mathematik",
		Date:    &d,
	})
	if err != nil {
		t.Fatalf("create exam %s: %v", title, err)
	}
	return e
}

func (f *fixture) grade(t *testing.T, e *model.Exam, closed bool, grades map[int64]float64) {
	t.Helper()
	d := e.Date
	_, err := f.exams.Update(context.Background(), e.ID, model.ExamInput{
		Title:    e.Title,
		Subject:  e.Subject,
		Date:     &d,
		IsClosed: closed,
		Grades:   grades,
	})
	if err != nil {
		t.Fatalf("grade exam %d: %v", e.ID, err)
	}
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func assertKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected error kind %q, got %q (%v)", want, got, err)
	}
}

func TestExamLifecycle(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()

	e := f.exam(t, "Proportionalität")
	if e.IsClosed {
		t.Fatal("new exam should be open")
	}

	open, err := f.exams.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 || open[0].ID != e.ID {
		t.Fatalf("expected exam %d to be open, got %+v", e.ID, open)
	}

	closed, err := f.exams.Close(ctx, e.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closed.IsClosed {
		t.Error("expected exam to be closed")
	}

	_, err = f.exams.Close(ctx, e.ID)
	assertKind(t, err, apperr.KindStateConflict)

	d := e.Date
	_, err = f.exams.Update(ctx, e.ID, model.ExamInput{Title: e.Title, Subject: e.Subject, Date: &d})
	assertKind(t, err, apperr.KindStateConflict)

	graded, err := f.exams.ListClosed(ctx)
	if err != nil {
		t.Fatalf("ListClosed: %v", err)
	}
	if len(graded) != 1 {
		t.Errorf("expected 1 closed exam, got %d", len(graded))
	}

	_, err = f.exams.Close(ctx, 999)
	assertKind(t, err, apperr.KindNotFound)

	if err := f.exams.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = f.exams.Get(ctx, e.ID)
	assertKind(t, err, apperr.KindNotFound)
	assertKind(t, f.exams.Delete(ctx, e.ID), apperr.KindNotFound)
}

func TestExamInputValidation(t *testing.T) {
	d := model.NewDate(2025, 11, 6)
	tests := []struct {
		name   string
		policy model.Policy
		in     model.ExamInput
		want   apperr.Kind
	}{
		{"strict blank title", model.DefaultPolicy(), model.ExamInput{Title: "  ", Subject: "M", Date: &d}, apperr.KindInvalidInput},
		{"strict missing subject", model.DefaultPolicy(), model.ExamInput{Title: "T", Date: &d}, apperr.KindInvalidInput},
		{"strict missing date", model.DefaultPolicy(), model.ExamInput{Title: "T", Subject: "M"}, apperr.KindInvalidInput},
		{"lenient blank title", model.Policy{}, model.ExamInput{Date: &d}, ""},
		{"lenient missing date", model.Policy{}, model.ExamInput{Title: "T", Subject: "M"}, apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			_, err := f.exams.Create(context.Background(), tt.in)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			assertKind(t, err, tt.want)
		})
	}
}

func TestExamPastDates(t *testing.T) {
	policy := model.DefaultPolicy()
	policy.RejectPastExamDates = true
	f := newFixture(t, policy)
	f.exams.now = func() time.Time { return time.Date(2025, 11, 6, 15, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	past := model.NewDate(2025, 11, 5)
	_, err := f.exams.Create(ctx, model.ExamInput{Title: "T", Subject: "M", Date: &past})
	assertKind(t, err, apperr.KindInvalidInput)

	today := model.NewDate(2025, 11, 6)
	if _, err := f.exams.Create(ctx, model.ExamInput{Title: "T", Subject: "M", Date: &today}); err != nil {
		t.Errorf("expected today to be accepted, got %v", err)
	}
}

func TestExamGrades(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	e := f.exam(t, "Brüche")
	d := e.Date

	_, err := f.exams.Update(ctx, e.ID, model.ExamInput{
		Title: e.Title, Subject: e.Subject, Date: &d,
		Grades: map[int64]float64{anna.ID: 6.5},
	})
	assertKind(t, err, apperr.KindInvalidInput)

	_, err = f.exams.Update(ctx, e.ID, model.ExamInput{
		Title: e.Title, Subject: e.Subject, Date: &d,
		Grades: map[int64]float64{12345: 4.0},
	})
	assertKind(t, err, apperr.KindNotFound)

	updated, err := f.exams.Update(ctx, e.ID, model.ExamInput{
		Title: e.Title, Subject: e.Subject, Date: &d,
		Grades: map[int64]float64{anna.ID: 5.25},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if g := updated.Grade(anna.ID); g == nil || *g != 5.25 {
		t.Errorf("expected grade 5.25, got %v", g)
	}

	got, err := f.exams.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if g := got.Grade(anna.ID); g == nil || *g != 5.25 {
		t.Errorf("expected stored grade 5.25, got %v", g)
	}
}

func TestSubmitScoresAgainstGrade(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	e := f.exam(t, "Proportionalität")

	p, created, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction1: f64(5.0)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created {
		t.Error("expected first submission to create")
	}
	if p.Points1 != nil {
		t.Errorf("expected no points before grading, got %d", *p.Points1)
	}

	f.grade(t, e, false, map[int64]float64{anna.ID: 5.25})

	p2, created, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction1: f64(5.0)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created {
		t.Error("expected resubmission to update")
	}
	if p2.ID != p.ID {
		t.Errorf("expected same prediction %d, got %d", p.ID, p2.ID)
	}
	if p2.Points1 == nil || *p2.Points1 != 4 {
		t.Fatalf("expected points1 = 4, got %v", p2.Points1)
	}

	p3, _, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Points1: intp(5)})
	if err != nil {
		t.Fatalf("Submit override: %v", err)
	}
	if *p3.Points1 != 5 || *p3.Prediction1 != 5.0 {
		t.Errorf("expected override to keep prediction and set points1 = 5, got %+v", p3)
	}

	p4, _, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction2: f64(4.5)})
	if err != nil {
		t.Fatalf("Submit slot 2: %v", err)
	}
	if *p4.Points1 != 5 {
		t.Errorf("slot 1 should be untouched, got %d", *p4.Points1)
	}
	if p4.Points2 == nil || *p4.Points2 != 2 {
		t.Errorf("expected points2 = 2, got %v", p4.Points2)
	}

	all, err := f.predictions.ForExam(ctx, e.ID)
	if err != nil {
		t.Fatalf("ForExam: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one prediction, got %d", len(all))
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	lehrer := f.user(t, "lehrer", model.UserRoleTeacher)
	open := f.exam(t, "Offen")
	closed := f.exam(t, "Geschlossen")
	if _, err := f.exams.Close(ctx, closed.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tests := []struct {
		name    string
		exam    int64
		student int64
		in      model.PredictionInput
		want    apperr.Kind
	}{
		{"closed exam", closed.ID, anna.ID, model.PredictionInput{Prediction1: f64(4.0)}, apperr.KindStateConflict},
		{"unknown exam", 999, anna.ID, model.PredictionInput{Prediction1: f64(4.0)}, apperr.KindNotFound},
		{"unknown student", open.ID, 999, model.PredictionInput{Prediction1: f64(4.0)}, apperr.KindNotFound},
		{"teacher", open.ID, lehrer.ID, model.PredictionInput{Prediction1: f64(4.0)}, apperr.KindInvalidInput},
		{"too high", open.ID, anna.ID, model.PredictionInput{Prediction1: f64(6.5)}, apperr.KindInvalidInput},
		{"too low", open.ID, anna.ID, model.PredictionInput{Prediction2: f64(0.5)}, apperr.KindInvalidInput},
		{"points out of range", open.ID, anna.ID, model.PredictionInput{Points1: intp(6)}, apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.predictions.Submit(ctx, tt.exam, tt.student, tt.in)
			assertKind(t, err, tt.want)
		})
	}

	for _, v := range []float64{1.0, 6.0} {
		if _, _, err := f.predictions.Submit(ctx, open.ID, anna.ID, model.PredictionInput{Prediction1: f64(v)}); err != nil {
			t.Errorf("expected boundary %.1f to be accepted, got %v", v, err)
		}
	}
}

func TestConcurrentSubmitsAndClose(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	e := f.exam(t, "Proportionalität")

	const submitters = 39
	var (
		wg       sync.WaitGroup
		errs     = make(chan error, submitters)
		closeErr error
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction1: f64(4.0)})
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, closeErr = f.exams.Close(ctx, e.ID)
	}()
	wg.Wait()
	close(errs)

	if closeErr != nil {
		t.Fatalf("Close: %v", closeErr)
	}
	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		if !apperr.Is(err, apperr.KindStateConflict) {
			t.Errorf("expected only state conflicts, got %v", err)
		}
	}

	ps, err := f.predictions.ForExam(ctx, e.ID)
	if err != nil {
		t.Fatalf("ForExam: %v", err)
	}
	if accepted == 0 {
		if len(ps) != 0 {
			t.Errorf("close won every race but %d predictions were stored", len(ps))
		}
		return
	}
	if len(ps) != 1 {
		t.Fatalf("expected one prediction for the pair, got %d", len(ps))
	}
	if ps[0].Prediction1 == nil || *ps[0].Prediction1 != 4.0 {
		t.Errorf("unexpected stored prediction %+v", ps[0])
	}
}

func TestInvalidFieldsKeepInputOrder(t *testing.T) {
	f := newFixture(t, model.Policy{})
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	e := f.exam(t, "Offen")

	fieldNames := func(err error) []string {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			t.Fatalf("expected *apperr.Error, got %v", err)
		}
		var names []string
		for _, fe := range ae.Fields {
			names = append(names, fe.Field)
		}
		return names
	}

	for i := 0; i < 20; i++ {
		_, _, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction1: f64(7), Prediction2: f64(0)})
		if got := fieldNames(err); !slices.Equal(got, []string{"prediction1", "prediction2"}) {
			t.Fatalf("prediction fields out of order: %v", got)
		}
		_, _, err = f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Points1: intp(-1), Points2: intp(9)})
		if got := fieldNames(err); !slices.Equal(got, []string{"points1", "points2"}) {
			t.Fatalf("points fields out of order: %v", got)
		}
		_, err = f.users.Create(ctx, model.UserInput{})
		if got := fieldNames(err); !slices.Equal(got, []string{"username", "email", "password"}) {
			t.Fatalf("user fields out of order: %v", got)
		}
	}
}

func TestSubmitWithoutRoleGate(t *testing.T) {
	f := newFixture(t, model.Policy{StrictValidation: true})
	lehrer := f.user(t, "lehrer", model.UserRoleTeacher)
	e := f.exam(t, "Offen")

	if _, _, err := f.predictions.Submit(context.Background(), e.ID, lehrer.ID, model.PredictionInput{Prediction1: f64(4.0)}); err != nil {
		t.Fatalf("expected teacher prediction to be accepted, got %v", err)
	}
}

func TestPredictionReads(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	e := f.exam(t, "Offen")

	none, err := f.predictions.ForExamAndStudent(ctx, e.ID, anna.ID)
	if err != nil || none != nil {
		t.Fatalf("expected no prediction yet, got %+v, %v", none, err)
	}
	_, err = f.predictions.ForExamAndStudent(ctx, 999, anna.ID)
	assertKind(t, err, apperr.KindNotFound)
	_, err = f.predictions.ForStudent(ctx, 999)
	assertKind(t, err, apperr.KindNotFound)

	p, _, err := f.predictions.Submit(ctx, e.ID, anna.ID, model.PredictionInput{Prediction1: f64(4.0)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := f.predictions.ForExamAndStudent(ctx, e.ID, anna.ID)
	if err != nil {
		t.Fatalf("ForExamAndStudent: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected prediction %d, got %d", p.ID, got.ID)
	}
	mine, err := f.predictions.ForStudent(ctx, anna.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("ForStudent: %v %v", mine, err)
	}

	if err := f.predictions.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = f.predictions.Get(ctx, p.ID)
	assertKind(t, err, apperr.KindNotFound)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	ben := f.user(t, "ben", model.UserRoleStudent)
	f.user(t, "lehrer", model.UserRoleTeacher)
	e := f.exam(t, "Proportionalität")
	pending := f.exam(t, "Offen")

	f.grade(t, e, false, map[int64]float64{anna.ID: 5.0, ben.ID: 4.0})
	submit := func(exam, student int64, p1, p2 float64) {
		t.Helper()
		if _, _, err := f.predictions.Submit(ctx, exam, student, model.PredictionInput{Prediction1: f64(p1), Prediction2: f64(p2)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	submit(e.ID, anna.ID, 5.0, 4.5) // 5 + 3
	submit(e.ID, ben.ID, 4.0, 4.0)  // 5 + 5
	submit(pending.ID, anna.ID, 6.0, 6.0)
	if _, err := f.exams.Close(ctx, e.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	board, err := f.predictions.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 students, got %+v", board)
	}
	if board[0].StudentID != ben.ID || board[0].TotalPoints != 10 || board[0].Rank != 1 {
		t.Errorf("unexpected first entry %+v", board[0])
	}
	if board[1].StudentID != anna.ID || board[1].TotalPoints != 8 || board[1].Rank != 2 {
		t.Errorf("unexpected second entry %+v", board[1])
	}
}

func TestUserCreate(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()

	u, err := f.users.Create(ctx, model.UserInput{Username: "anna", Email: "anna@test.ch", Password: "secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Role != model.UserRoleStudent {
		t.Errorf("expected default role STUDENT, got %s", u.Role)
	}
	if u.PasswordHash == "secret" {
		t.Error("password stored in plaintext")
	}

	tests := []struct {
		name string
		in   model.UserInput
		want apperr.Kind
	}{
		{"email taken", model.UserInput{Username: "other", Email: "anna@test.ch", Password: "x"}, apperr.KindDuplicateResource},
		{"username taken", model.UserInput{Username: "anna", Email: "other@test.ch", Password: "x"}, apperr.KindDuplicateResource},
		{"bad email", model.UserInput{Username: "b", Email: "nope", Password: "x"}, apperr.KindInvalidInput},
		{"missing password", model.UserInput{Username: "b", Email: "b@test.ch"}, apperr.KindInvalidInput},
		{"bad role", model.UserInput{Username: "b", Email: "b@test.ch", Password: "x", Role: "ADMIN"}, apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.users.Create(ctx, tt.in)
			assertKind(t, err, tt.want)
		})
	}
}

func TestUserUpdate(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	f.user(t, "ben", model.UserRoleStudent)

	_, err := f.users.Update(ctx, anna.ID, model.UserUpdate{Username: "anna", Email: "ben@test.ch"})
	assertKind(t, err, apperr.KindDuplicateResource)
	_, err = f.users.Update(ctx, anna.ID, model.UserUpdate{Username: "", Email: "anna@test.ch"})
	assertKind(t, err, apperr.KindInvalidInput)
	_, err = f.users.Update(ctx, 999, model.UserUpdate{Username: "x", Email: "x@test.ch"})
	assertKind(t, err, apperr.KindNotFound)

	u, err := f.users.Update(ctx, anna.ID, model.UserUpdate{Username: "anna2", Email: "anna2@test.ch", Password: "neu"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Username != "anna2" || u.Role != model.UserRoleStudent {
		t.Errorf("unexpected user %+v", u)
	}
	if _, err := f.users.Authenticate(ctx, "anna2@test.ch", "neu"); err != nil {
		t.Errorf("expected new password to work, got %v", err)
	}
}

func TestUserUpdateLenient(t *testing.T) {
	f := newFixture(t, model.Policy{})
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	f.user(t, "ben", model.UserRoleStudent)

	_, err := f.users.Update(ctx, anna.ID, model.UserUpdate{Username: "anna", Email: "ben@test.ch"})
	assertKind(t, err, apperr.KindDuplicateResource)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)

	u, err := f.users.Authenticate(ctx, "anna@test.ch", "anna")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != anna.ID {
		t.Errorf("expected user %d, got %d", anna.ID, u.ID)
	}
	if _, err := f.users.Authenticate(ctx, "anna@test.ch", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "nobody@test.ch", "anna"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = f.users.GetByEmail(ctx, "")
	assertKind(t, err, apperr.KindInvalidInput)
	_, err = f.users.GetByEmail(ctx, "nobody@test.ch")
	assertKind(t, err, apperr.KindNotFound)

	if err := f.users.Delete(ctx, anna.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assertKind(t, f.users.Delete(ctx, anna.ID), apperr.KindNotFound)
}

func TestClassRequestApproval(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	lehrer := f.user(t, "lehrer", model.UserRoleTeacher)
	answeredAt := time.Date(2025, 11, 7, 8, 0, 0, 0, time.UTC)
	f.classes.now = func() time.Time { return answeredAt }

	req, created, err := f.classes.Request(ctx, anna.ID, model.ClassRequestInput{TeacherEmail: " Lehrer@Test.ch "})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !created || req.Status != model.ClassRequestPending || req.TeacherID != lehrer.ID {
		t.Fatalf("unexpected request %+v created=%v", req, created)
	}

	again, created, err := f.classes.Request(ctx, anna.ID, model.ClassRequestInput{TeacherEmail: "lehrer@test.ch"})
	if err != nil {
		t.Fatalf("Request again: %v", err)
	}
	if created || again.ID != req.ID {
		t.Errorf("expected the pending request to be reused, got %+v created=%v", again, created)
	}

	approved, err := f.classes.Respond(ctx, lehrer.ID, req.ID, model.ClassResponseInput{Status: "approved"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if approved.Status != model.ClassRequestApproved || approved.RespondedAt == nil || !approved.RespondedAt.Equal(answeredAt) {
		t.Errorf("unexpected answered request %+v", approved)
	}

	members, err := f.classes.Members(ctx, lehrer.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].StudentID != anna.ID || members[0].StudentName != "anna" {
		t.Fatalf("unexpected members %+v", members)
	}
	classes, err := f.classes.ClassesOf(ctx, anna.ID)
	if err != nil {
		t.Fatalf("ClassesOf: %v", err)
	}
	if len(classes) != 1 || classes[0].TeacherID != lehrer.ID {
		t.Errorf("unexpected classes %+v", classes)
	}

	_, err = f.classes.Respond(ctx, lehrer.ID, req.ID, model.ClassResponseInput{Status: "REJECTED"})
	assertKind(t, err, apperr.KindStateConflict)

	_, _, err = f.classes.Request(ctx, anna.ID, model.ClassRequestInput{TeacherEmail: "lehrer@test.ch"})
	assertKind(t, err, apperr.KindStateConflict)

	if err := f.classes.RemoveMember(ctx, lehrer.ID, anna.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	assertKind(t, f.classes.RemoveMember(ctx, lehrer.ID, anna.ID), apperr.KindNotFound)
}

func TestClassRequestRejection(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	lehrer := f.user(t, "lehrer", model.UserRoleTeacher)

	req, _, err := f.classes.Request(ctx, anna.ID, model.ClassRequestInput{TeacherEmail: "lehrer@test.ch"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := f.classes.Respond(ctx, lehrer.ID, req.ID, model.ClassResponseInput{Status: "rejected"}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	members, err := f.classes.Members(ctx, lehrer.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("rejection must not add a member, got %+v", members)
	}

	pending, err := f.classes.RequestsForTeacher(ctx, lehrer.ID, "pending")
	if err != nil {
		t.Fatalf("RequestsForTeacher: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending requests, got %+v", pending)
	}
	mine, err := f.classes.RequestsForStudent(ctx, anna.ID)
	if err != nil {
		t.Fatalf("RequestsForStudent: %v", err)
	}
	if len(mine) != 1 || mine[0].Status != model.ClassRequestRejected {
		t.Errorf("unexpected student requests %+v", mine)
	}

	// A rejected student may ask again.
	_, created, err := f.classes.Request(ctx, anna.ID, model.ClassRequestInput{TeacherEmail: "lehrer@test.ch"})
	if err != nil || !created {
		t.Errorf("expected a new request after rejection, got created=%v err=%v", created, err)
	}
}

func TestClassRequestRejections(t *testing.T) {
	f := newFixture(t, model.DefaultPolicy())
	ctx := context.Background()
	anna := f.user(t, "anna", model.UserRoleStudent)
	ben := f.user(t, "ben", model.UserRoleStudent)
	lehrer := f.user(t, "lehrer", model.UserRoleTeacher)
	other := f.user(t, "other", model.UserRoleTeacher)

	tests := []struct {
		name    string
		student int64
		email   string
		want    apperr.Kind
	}{
		{"unknown student", 999, "lehrer@test.ch", apperr.KindNotFound},
		{"unknown teacher", anna.ID, "niemand@test.ch", apperr.KindNotFound},
		{"not a teacher", anna.ID, "ben@test.ch", apperr.KindInvalidInput},
		{"teacher asks", lehrer.ID, "other@test.ch", apperr.KindInvalidInput},
		{"bad email", anna.ID, "lehrer", apperr.KindInvalidInput},
		{"blank email", anna.ID, "  ", apperr.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.classes.Request(ctx, tt.student, model.ClassRequestInput{TeacherEmail: tt.email})
			assertKind(t, err, tt.want)
		})
	}

	req, _, err := f.classes.Request(ctx, ben.ID, model.ClassRequestInput{TeacherEmail: "lehrer@test.ch"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	_, err = f.classes.Respond(ctx, other.ID, req.ID, model.ClassResponseInput{Status: "approved"})
	assertKind(t, err, apperr.KindNotFound)
	_, err = f.classes.Respond(ctx, lehrer.ID, req.ID, model.ClassResponseInput{Status: "pending"})
	assertKind(t, err, apperr.KindInvalidInput)
	_, err = f.classes.Respond(ctx, lehrer.ID, 999, model.ClassResponseInput{Status: "approved"})
	assertKind(t, err, apperr.KindNotFound)
	_, err = f.classes.RequestsForTeacher(ctx, lehrer.ID, "maybe")
	assertKind(t, err, apperr.KindInvalidInput)
	_, err = f.classes.Members(ctx, 999)
	assertKind(t, err, apperr.KindNotFound)
}
