package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/config"
	"github.com/fyrsmithlabs/nbpilot/internal/logging"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/progress"
)

func newRunCmd() *cobra.Command {
	var speed string

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task against the configured kernel",
		Long: `Run one natural-language task and print its progress.

Examples:
  # Run with the configured speed
  nbpilot run "load sales.csv and plot monthly revenue"

  # Skip the delay between steps
  nbpilot run --speed instant "count rows in df"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if speed != "" {
				s, err := orchestrator.ParseSpeed(speed)
				if err != nil {
					return err
				}
				cfg.Orchestrator.Speed = s
			}
			// Nothing can call Proceed from a one-shot run.
			if cfg.Orchestrator.Speed == orchestrator.SpeedManual {
				return fmt.Errorf("speed %q needs the task API to proceed; use serve", cfg.Orchestrator.Speed)
			}
			res, err := runTask(cmd.Context(), cfg, strings.Join(args, " "), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if res.Status != orchestrator.StatusCompleted {
				return fmt.Errorf("task %s", res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&speed, "speed", "", "step speed: instant, fast, normal or slow")
	return cmd
}

// runTask executes task and writes its progress to out.
func runTask(ctx context.Context, cfg *config.Config, task string, out io.Writer) (*orchestrator.Result, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = a.Close(context.Background())
	}()

	req := orchestrator.TaskRequest{ID: uuid.New().String(), Task: task}
	ctx = logging.WithTaskID(ctx, req.ID)
	a.logger.Info(ctx, "task submitted", zap.String("task", task))

	ch := progress.NewChannel(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch.Events() {
			printEvent(out, ev)
		}
	}()

	res, err := a.orchestrator.ExecuteTask(ctx, req, a.kernel, a.sink(ch.Sink()))
	ch.Close()
	<-done

	if err != nil {
		return nil, err
	}
	printResult(out, res)
	return res, nil
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	switch ev.Phase {
	case orchestrator.PhasePlanned:
		if ev.Plan != nil {
			fmt.Fprintf(w, "plan: %d steps\n", len(ev.Plan.Steps))
			for i, s := range ev.Plan.Steps {
				fmt.Fprintf(w, "  %d. %s\n", i+1, s.Description)
			}
		}
	case orchestrator.PhaseExecuting:
		fmt.Fprintf(w, "[%d/%d] %s\n", ev.Step, ev.TotalSteps, ev.Message)
	case orchestrator.PhaseReplanning:
		fmt.Fprintf(w, "replanning (attempt %d): %s\n", ev.Attempt, ev.Message)
	case orchestrator.PhaseFailed:
		if ev.Error != nil {
			fmt.Fprintf(w, "failed: %s\n", ev.Error.Error())
		}
	}
}

func printResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "\nstatus: %s (%d steps, %d replans, %s)\n",
		res.Status, len(res.StepResults), res.Replans, res.Duration().Round(time.Millisecond))
	if res.FinalAnswer != "" {
		fmt.Fprintf(w, "answer: %s\n", res.FinalAnswer)
	}
	if res.Error != nil {
		fmt.Fprintf(w, "error: %s\n", res.Error.Error())
	}
}
