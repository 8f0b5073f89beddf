package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/checkpoint"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/service"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/cron"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
)

// wizardFlags are the answers to the wizard steps, given up front
type wizardFlags struct {
	entity       string
	file         string
	sheet        string
	fields       map[string]string
	method       string
	incomeLabel  string
	expenseLabel string
	properties   string
	report       string
}

func (f *wizardFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "entity type: property, tenant, contract or transaction (required)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "spreadsheet to import, .xlsx or .csv (required)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "worksheet to read (default: the suggested one)")
	cmd.Flags().StringToStringVarP(&f.fields, "map", "m", nil, "map a field to a column, e.g. --map date=Data; use none to ignore a field")
	cmd.Flags().StringVar(&f.method, "method", "", "transaction formatting method: sign, label or separate_columns")
	cmd.Flags().StringVar(&f.incomeLabel, "income-label", "", "type label marking income rows (label method)")
	cmd.Flags().StringVar(&f.expenseLabel, "expense-label", "", "type label marking expense rows (label method)")
	cmd.Flags().StringVar(&f.properties, "properties", "", "CSV export of properties used to resolve property names")
	cmd.Flags().StringVar(&f.report, "report", "", "write rejected and flagged rows to this CSV file")

	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("file")
}

// openSession runs the upload, sheet selection and mapping steps
func openSession(ctx context.Context, deps *Dependencies, f *wizardFlags) (*service.Session, *checkpoint.Checkpoint, error) {
	entity, err := schema.ParseEntityType(f.entity)
	if err != nil {
		return nil, nil, err
	}

	sess, pending, err := deps.ImportService.Begin(ctx, entity)
	if err != nil {
		return nil, nil, err
	}

	if err := loadFile(ctx, sess, f.file); err != nil {
		return nil, nil, err
	}

	switch {
	case sess.Step() == service.StepSelectSheet:
		sheet := f.sheet
		if sheet == "" {
			sheet = sess.SuggestedSheet()
		}
		if sheet == "" {
			_ = sess.Close()
			return nil, nil, fmt.Errorf("%w: the file has several sheets (%s), choose one with --sheet",
				service.ErrSheetSelectionRequired, strings.Join(sess.Sheets(), ", "))
		}
		if err := sess.SelectSheet(sheet); err != nil {
			_ = sess.Close()
			return nil, nil, err
		}
	case f.sheet != "" && f.sheet != sess.Sheet():
		if err := sess.SelectSheet(f.sheet); err != nil {
			_ = sess.Close()
			return nil, nil, err
		}
	}

	if err := applyAnswers(sess, f); err != nil {
		_ = sess.Close()
		return nil, nil, err
	}

	return sess, pending, nil
}

func loadFile(ctx context.Context, sess *service.Session, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return sess.LoadFile(ctx, filepath.Base(path), file)
}

func applyAnswers(sess *service.Session, f *wizardFlags) error {
	if f.method != "" {
		method, err := schema.ParseFormattingMethod(f.method)
		if err != nil {
			return err
		}
		if err := sess.SetMethod(method); err != nil {
			return err
		}
	}
	if f.incomeLabel != "" || f.expenseLabel != "" {
		opts := sess.Options()
		income, expense := opts.IncomeLabel, opts.ExpenseLabel
		if f.incomeLabel != "" {
			income = f.incomeLabel
		}
		if f.expenseLabel != "" {
			expense = f.expenseLabel
		}
		sess.SetLabels(income, expense)
	}

	fields := make([]string, 0, len(f.fields))
	for field := range f.fields {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		if err := sess.SetField(field, f.fields[field]); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(path string, prepared *service.Prepared) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := prepared.WriteReport(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var f wizardFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show the sheets, suggested mapping, preview and conversion summary of a file without importing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			deps, err := a.dependencies(ctx, dependencyOptions{propertiesFile: f.properties, notifier: out.notifier()})
			if err != nil {
				return err
			}
			defer deps.Close()

			sess, pending, err := openSession(ctx, deps, &f)
			if err != nil {
				return err
			}
			defer sess.Close()

			if pending != nil {
				out.line("%s", mutedStyle.Render(fmt.Sprintf("an unfinished import of %d rows is pending", pending.Remaining())))
			}

			return analyze(ctx, out, sess, f.report)
		},
	}

	f.register(cmd)
	return cmd
}

func analyze(ctx context.Context, out *printer, sess *service.Session, report string) error {
	out.title("Sheet")
	out.line("%s (of %s)", sess.Sheet(), strings.Join(sess.Sheets(), ", "))

	out.title("Mapping")
	m := sess.Mapping()
	opts := sess.Options()
	rows := make([][]string, 0)
	for _, field := range sess.VisibleFields() {
		header, _ := m.Source(field)
		rows = append(rows, []string{field, header})
	}
	out.table([]string{"FIELD", "COLUMN"}, rows)
	if sess.Entity() == schema.EntityTransaction {
		out.line("method: %s", opts.Method)
	}

	out.title("Preview")
	headers := sess.Headers()
	preview := make([][]string, 0, len(sess.Preview()))
	for _, row := range sess.Preview() {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = row[h]
		}
		preview = append(preview, cells)
	}
	out.table(headers, preview)

	v, err := sess.Validate()
	if err != nil {
		return err
	}
	for _, w := range v.Warnings {
		out.level(notify.LevelWarning, "%s", w)
	}
	if !v.OK() {
		for _, e := range v.Errors {
			out.level(notify.LevelError, "%s", e)
		}
		return fmt.Errorf("%w: %w", service.ErrValidationFailed, v.Err())
	}

	prepared, err := sess.Prepare(ctx)
	if err != nil {
		return err
	}

	out.title("Summary")
	out.line("rows: %d  accepted: %d  rejected: %d  flagged: %d",
		prepared.Total, len(prepared.Rows), len(prepared.Rejected), len(prepared.Flags))
	if prepared.Entity == schema.EntityTransaction {
		out.line("number format: %s  income: %s  expense: %s",
			prepared.Dialect, prepared.Income.Display(), prepared.Expense.Display())
	}

	if report != "" {
		if err := writeReport(report, prepared); err != nil {
			return err
		}
		out.line("report written to %s", report)
	}
	return nil
}

func newRunCommand(a *app) *cobra.Command {
	var (
		f     wizardFlags
		force bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import a spreadsheet into the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			deps, err := a.dependencies(ctx, dependencyOptions{
				requireBackend: true,
				propertiesFile: f.properties,
				notifier:       out.notifier(),
			})
			if err != nil {
				return err
			}
			defer deps.Close()

			sess, pending, err := openSession(ctx, deps, &f)
			if err != nil {
				return err
			}
			defer sess.Close()

			if pending != nil {
				if !force {
					return fmt.Errorf("an unfinished %s import of %d rows exists: resume or discard it first, or pass --force to discard it",
						sess.Entity(), pending.Remaining())
				}
				if err := deps.ImportService.Discard(ctx, sess.Entity()); err != nil {
					return err
				}
			}

			if f.report != "" {
				prepared, err := sess.Prepare(ctx)
				if err != nil {
					return err
				}
				if err := writeReport(f.report, prepared); err != nil {
					return err
				}
			}

			result, err := sess.Import(ctx, out.progress())
			printResult(out, result)
			return err
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "discard an unfinished import of the same entity type")
	return cmd
}

func printResult(out *printer, result *uploader.Result) {
	if result == nil {
		return
	}
	out.title("Result")
	out.line("imported %d of %d rows in %d chunks", result.Imported, result.TotalRows, result.TotalChunks)
	for _, ce := range result.FailedChunks {
		out.level(notify.LevelError, "chunk %d (%d rows): %v", ce.Index+1, ce.Rows, ce.Err)
	}
	if result.Remaining > 0 {
		out.line("%d rows saved for resume (%.1f%% done)", result.Remaining, result.Progress)
	}
}

func entityFlag(cmd *cobra.Command, entity *string) {
	cmd.Flags().StringVarP(entity, "entity", "e", "", "entity type: property, tenant, contract or transaction (required)")
	_ = cmd.MarkFlagRequired("entity")
}

func newResumeCommand(a *app) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an unfinished import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			e, err := schema.ParseEntityType(entity)
			if err != nil {
				return err
			}

			deps, err := a.dependencies(ctx, dependencyOptions{requireBackend: true, notifier: out.notifier()})
			if err != nil {
				return err
			}
			defer deps.Close()

			result, err := deps.ImportService.Resume(ctx, e, out.progress())
			printResult(out, result)
			return err
		},
	}

	entityFlag(cmd, &entity)
	return cmd
}

func newDiscardCommand(a *app) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Drop an unfinished import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			e, err := schema.ParseEntityType(entity)
			if err != nil {
				return err
			}

			deps, err := a.dependencies(ctx, dependencyOptions{notifier: out.notifier()})
			if err != nil {
				return err
			}
			defer deps.Close()

			return deps.ImportService.Discard(ctx, e)
		},
	}

	entityFlag(cmd, &entity)
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List unfinished imports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := newPrinter(cmd.OutOrStdout())

			deps, err := a.dependencies(ctx, dependencyOptions{notifier: out.notifier()})
			if err != nil {
				return err
			}
			defer deps.Close()

			pending, err := deps.ImportService.Pending(ctx)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				out.line("no unfinished imports")
				return nil
			}

			ttl := deps.Checkpoints.TTL()
			rows := make([][]string, 0, len(pending))
			for _, cp := range pending {
				savedAt := cp.SavedAt()
				rows = append(rows, []string{
					string(cp.EntityType),
					fmt.Sprintf("%d", cp.Remaining()),
					fmt.Sprintf("%.1f%%", cp.Progress),
					savedAt.Local().Format(time.DateTime),
					savedAt.Add(ttl).Local().Format(time.DateTime),
				})
			}
			out.table([]string{"ENTITY", "ROWS LEFT", "PROGRESS", "SAVED", "EXPIRES"}, rows)
			return nil
		},
	}
}

func newJanitorCommand(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Delete expired checkpoints on a schedule and serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			deps, err := a.dependencies(ctx, dependencyOptions{})
			if err != nil {
				return err
			}
			defer deps.Close()

			scheduler := cron.NewScheduler(deps.Checkpoints, a.cfg.Checkpoint.JanitorSchedule, a.logger)

			if once {
				pruned, err := scheduler.RunNow(ctx)
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).line("removed %d expired checkpoints", pruned)
				return nil
			}

			return runJanitor(ctx, a, deps, scheduler)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "prune once and exit")
	return cmd
}

func runJanitor(ctx context.Context, a *app, deps *Dependencies, scheduler *cron.Scheduler) error {
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { <-scheduler.Stop().Done() }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              a.cfg.Observability.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
