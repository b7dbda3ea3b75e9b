package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mifrun/task-runner/internal/batch"
	"github.com/mifrun/task-runner/internal/domain"
	"github.com/mifrun/task-runner/internal/notify"
	"github.com/mifrun/task-runner/internal/observer"
	"github.com/mifrun/task-runner/internal/scheduler"
	"github.com/mifrun/task-runner/internal/taskstore"
	"github.com/mifrun/task-runner/tui"
	"github.com/mifrun/task-runner/web/api"
)

// slowPassThreshold flags passes worth a warning in watch mode
const slowPassThreshold = 10 * time.Minute

var (
	runSkipDecompose bool
	runPasses        int
	workPasses       int
	decomposeDescr   string
	listStatus       string
	listEpic         string
	listLimit        int
	tuiRefresh       time.Duration
	watchHTTP        string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Decompose Ready epics, then run Ready tasks",
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runSkipDecompose, "skip-decompose", false, "only run tasks")
	runCmd.Flags().IntVar(&runPasses, "passes", 1, "number of task passes")
	rootCmd.AddCommand(runCmd)

	// work command
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Run Ready tasks",
		RunE:  runWork,
	}
	workCmd.Flags().IntVar(&workPasses, "passes", 1, "number of task passes")
	rootCmd.AddCommand(workCmd)

	// decompose command
	decomposeCmd := &cobra.Command{
		Use:   "decompose",
		Short: "Expand Ready epics into Draft tasks",
		RunE:  runDecompose,
	}
	decomposeCmd.Flags().StringVar(&decomposeDescr, "describe", "", "print the tasks generated for this description without storing them")
	rootCmd.AddCommand(decomposeCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run scheduled batches until interrupted",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchHTTP, "http", "", "serve the status API on this address (e.g. :8080)")
	rootCmd.AddCommand(watchCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listEpic, "epic", "", "filter by epic id")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of tasks")
	rootCmd.AddCommand(listCmd)

	// add command
	addCmd := &cobra.Command{
		Use:   "add FILE",
		Short: "Add tasks and epics from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	rootCmd.AddCommand(addCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs TASK",
		Short: "View logs for a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	rootCmd.AddCommand(logsCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the task dashboard",
		RunE:  runTUI,
	}
	tuiCmd.Flags().DurationVar(&tuiRefresh, "refresh", tui.DefaultRefresh, "reload interval")
	rootCmd.AddCommand(tuiCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	steps := []string{batch.StepWork}
	if !runSkipDecompose {
		steps = append([]string{batch.StepDecompose}, steps...)
	}
	return a.runBatch(ctx, batch.BatchConfig{Name: "run", Steps: steps, Passes: runPasses}, nil)
}

func runWork(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return a.runBatch(ctx, batch.BatchConfig{Name: "work", Steps: []string{batch.StepWork}, Passes: workPasses}, nil)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if decomposeDescr == "" {
		return a.runBatch(ctx, batch.BatchConfig{Name: "decompose", Steps: []string{batch.StepDecompose}}, nil)
	}

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}
	tasks, err := pipeline.Decompose(ctx, decomposeDescr)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tACTION\tTITLE\tPAYLOAD")
	for _, t := range tasks {
		payload, _ := json.Marshal(t.Payload)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.Priority, t.Action, t.Title, payload)
	}
	return w.Flush()
}

func pastDeadline(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}

// watchHooks receive pass results in watch mode
type watchHooks struct {
	obs    *observer.Observer
	server *api.Server // nil without --http
}

func (h *watchHooks) broadcast(typ string, data interface{}) {
	if h != nil && h.server != nil {
		h.server.Broadcast(api.SSEEvent{Type: typ, Data: data})
	}
}

// recordPass feeds the observer and reports whether the pass was slow
func (h *watchHooks) recordPass(s scheduler.Summary) bool {
	if h == nil || h.obs == nil {
		return false
	}
	rec := observer.PassRecord{
		RunID:    s.RunID,
		Done:     s.Done,
		Failed:   s.Failed,
		Skipped:  s.Skipped,
		Waiting:  s.Waiting,
		Duration: s.Duration,
	}
	for _, f := range s.Failures {
		rec.Failures = append(rec.Failures, f.TaskID)
	}
	h.obs.RecordPass(rec)
	return h.obs.IsSlow(s.Duration)
}

// runBatch executes the steps of one batch and reports failures. hooks is
// nil outside watch mode. The batch's max duration is checked between
// passes; a running action is never interrupted by it.
func (a *app) runBatch(ctx context.Context, cfg batch.BatchConfig, hooks *watchHooks) error {
	notifier := a.notifier()
	deadline := cfg.Deadline(time.Now())

	if cfg.Runs(batch.StepDecompose) {
		pipeline, err := a.pipeline()
		if err != nil {
			return err
		}
		summary, err := pipeline.ProcessEpics(ctx)
		if err != nil {
			return fmt.Errorf("decompose: %w", err)
		}
		fmt.Printf("Epics: %d processed | %d done | %d failed | %d tasks created\n",
			summary.Processed, summary.Done, summary.Failed, summary.TasksCreated)
		hooks.broadcast(api.EventEpics, summary)
		if n, ok := notify.ForEpics(summary); ok {
			if err := notifier.Send(n); err != nil {
				a.logger.Warnf("notification failed: %v", err)
			}
		}
	}

	if !cfg.Runs(batch.StepWork) {
		return nil
	}

	passes := cfg.Passes
	if passes < 1 {
		passes = 1
	}
	runner := a.runner()
	for i := 0; i < passes; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if pastDeadline(deadline, time.Now()) {
			a.logger.Warnf("batch %s reached its max duration after %d passes", cfg.Name, i)
			return nil
		}
		summary, err := runner.Pass(ctx)
		if err != nil {
			return fmt.Errorf("work: %w", err)
		}
		fmt.Println(formatSummary(summary))

		hooks.broadcast(api.EventPass, summary)
		if hooks.recordPass(summary) {
			a.logger.Warnf("pass %s took %s", summary.RunID, summary.Duration.Round(time.Second))
		}

		if n, ok := notify.ForPass(summary); ok {
			if err := notifier.Send(n); err != nil {
				a.logger.Warnf("notification failed: %v", err)
			}
		}

		// Nothing left to pick up
		if summary.Selected == 0 {
			break
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Schedule.Batches) == 0 {
		return fmt.Errorf("no batches configured; add [[schedule.batch]] entries to the config")
	}

	sched, err := batch.NewScheduler(a.cfg.Schedule.Batches, a.logger)
	if err != nil {
		return err
	}

	watcher, err := observer.NewPromptWatcher(func(files []string) {
		a.logger.Infof("prompt overrides changed (%d files), reloading", len(files))
		a.loader.ClearCache()
	}, a.logger)
	if err != nil {
		return err
	}
	for _, dir := range a.loader.OverrideDirs() {
		if err := watcher.AddDir(dir); err != nil {
			a.logger.Warnf("watching %s: %v", dir, err)
		}
	}

	obs := observer.New(slowPassThreshold)
	hooks := &watchHooks{obs: obs}
	if watchHTTP != "" {
		store, err := a.localStore()
		if err != nil {
			return err
		}
		hooks.server = api.NewServer(store, obs, watchHTTP, a.logger)
	}

	ctx, cancel := signalContext()
	defer cancel()

	for _, name := range sched.ListBatches() {
		a.logger.Infof("batch %s next run at %s", name, sched.NextRun(name).Format(time.RFC3339))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Start(ctx)
		<-ctx.Done()
		watcher.Stop()
		return nil
	})
	g.Go(func() error {
		return sched.Run(ctx, func(ctx context.Context, cfg batch.BatchConfig) error {
			return a.runBatch(ctx, cfg, hooks)
		})
	})
	if hooks.server != nil {
		g.Go(func() error {
			return hooks.server.Start(ctx)
		})
	}
	err = g.Wait()

	m := obs.GetMetrics()
	a.logger.Infof("stopped after %d passes: %d done, %d failed, %d skipped (avg %s)",
		m.Passes, m.TotalDone, m.TotalFailed, m.TotalSkipped, m.AvgDuration.Round(time.Millisecond))
	if failed := obs.GetRecentFailures(24 * time.Hour); len(failed) > 0 {
		a.logger.Infof("tasks failed in the last 24h: %v", failed)
	}
	return err
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.localStore()
	if err != nil {
		return err
	}

	status := domain.Status(listStatus)
	if listStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}

	tasks, err := store.ListTasks(cmd.Context(), taskstore.ListOptions{
		Status: status,
		EpicID: listEpic,
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}
	return writeTaskTable(os.Stdout, tasks, time.Now())
}

func runAdd(cmd *cobra.Command, args []string) error {
	manifest, err := taskstore.LoadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.localStore()
	if err != nil {
		return err
	}

	res, err := manifest.Apply(cmd.Context(), store)
	if err != nil {
		return err
	}

	for _, id := range res.EpicIDs {
		fmt.Printf("epic %s\n", id)
	}
	for _, t := range manifest.Tasks {
		fmt.Printf("task %s  %s\n", res.TaskIDs[t.Ref()], t.Title)
	}
	fmt.Printf("Added %d epics, %d tasks\n", len(res.EpicIDs), len(manifest.Tasks))
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.localStore()
	if err != nil {
		return err
	}

	task, err := store.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	entries, err := store.Logs(cmd.Context(), task.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s  (%s, attempt %d/%d)\n", task.ID, task.Title, statusStyle(task.Status).Render(string(task.Status)),
		task.Attempts, task.EffectiveMaxAttempts())
	if len(entries) == 0 {
		fmt.Println("No logs")
		return nil
	}
	return writeLogEntries(os.Stdout, entries)
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.localStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	model := tui.NewModel(tui.ModelConfig{
		Load: func() ([]*domain.Task, error) {
			return store.ListTasks(ctx, taskstore.ListOptions{})
		},
		Refresh: tuiRefresh,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
