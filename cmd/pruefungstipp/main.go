package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/pruefungstipp/internal/handler"
	appI18n "github.com/pavelanni/pruefungstipp/internal/i18n"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/seed"
	"github.com/pavelanni/pruefungstipp/internal/service"
	"github.com/pavelanni/pruefungstipp/internal/store"
	"github.com/pavelanni/pruefungstipp/internal/validate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pruefungstipp",
		Short: "Grade prediction game for school exams",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "pruefungstipp.db", "SQLite database path or Postgres DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(f)
	f.StringP("lang", "l", "de", "Default message language (de, en)")
	f.StringSlice("cors-origin", []string{"http://localhost:5173"}, "Allowed CORS origins (repeatable)")
	f.Bool("seed", true, "Seed demo users and an exam into empty tables")
	f.Bool("reject-past-exam-dates", false, "Refuse exam dates before today")
	f.Bool("require-student-role", true, "Only students may submit predictions")
	f.Bool("strict-validation", true, "Reject blank fields and check uniqueness on update")
	f.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.Int64("exam-id", 0, "Export only this exam (0 = all exams)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PRUEFUNGSTIPP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("pruefungstipp")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/pruefungstipp")
	v.AddConfigPath("/etc/pruefungstipp")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	driver := store.Driver(strings.ToLower(v.GetString("db-driver")))
	switch driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
	db, err := store.Open(driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if v.GetBool("seed") {
		if err := seed.Run(ctx, db, seed.Options{}); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	policy := model.Policy{
		RejectPastExamDates: v.GetBool("reject-past-exam-dates"),
		RequireStudentRole:  v.GetBool("require-student-role"),
		StrictValidation:    v.GetBool("strict-validation"),
	}
	validator, err := validate.New()
	if err != nil {
		return err
	}
	h := handler.New(db,
		service.NewUserService(db, validator, policy),
		service.NewExamService(db, validator, policy),
		service.NewPredictionService(db, policy),
		service.NewClassService(db, validator, policy),
	)

	origins := v.GetStringSlice("cors-origin")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware)
	h.Routes(r)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", srv.Addr,
		"db_driver", db.Driver(),
		"lang", lang,
		"cors_origins", origins,
		"reject_past_exam_dates", policy.RejectPastExamDates,
		"require_student_role", policy.RequireStudentRole,
		"strict_validation", policy.StrictValidation,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportExams(cmd.Context(), v.GetInt64("exam-id"))
	if err != nil {
		return fmt.Errorf("export exams: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported exams", "count", len(export.Exams), "output", outPath)
	return nil
}
