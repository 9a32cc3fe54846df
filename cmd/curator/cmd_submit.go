package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/notify"
	"curator/internal/pipeline"
	"curator/internal/types"
)

var (
	submitWait      bool
	submitLanguages []string
	submitAudience  string
)

// submitCmd asks the pipeline one question.
var submitCmd = &cobra.Command{
	Use:   "submit [query]",
	Short: "Submit a research query",
	Long: `Classifies the query, serves it from the knowledge cache when possible,
and otherwise schedules background research.

With --wait the command blocks until the research completes and prints the
result; without it, the task id is printed for later "curator status".

Example:
  curator submit --wait "how does tokio handle backpressure"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for research to complete")
	submitCmd.Flags().StringSliceVar(&submitLanguages, "lang", nil, "project languages to hint classification")
	submitCmd.Flags().StringVar(&submitAudience, "audience", "", "preferred audience: beginner, intermediate, advanced")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.Stop()

	var hints *types.ContextHints
	if len(submitLanguages) > 0 || submitAudience != "" {
		hints = &types.ContextHints{
			Languages:         submitLanguages,
			PreferredAudience: submitAudience,
		}
	}

	res, err := p.Submit(ctx, query, hints)
	if err != nil {
		return err
	}

	fmt.Printf("Classified: %s / %s / %s / %s (confidence %.2f)\n",
		res.Request.ResearchType, res.Request.Audience, res.Request.Domain,
		res.Request.Urgency, res.Request.Confidence)

	if res.Cached {
		fmt.Printf("Served from cache (hit #%d):\n\n%s\n", res.HitCount, res.Result.Content)
		return nil
	}

	fmt.Printf("Scheduled as task %s\n", res.TaskID)
	if !submitWait {
		return nil
	}

	events, cancelSub := p.Subscribe(notify.Preferences{TaskID: res.TaskID})
	defer cancelSub()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for task %s", res.TaskID)
		case ev := <-events:
			switch ev.Kind {
			case types.EventProgress:
				fmt.Printf("  ... %s\n", ev.Message)
			case types.EventCompleted:
				// Completed research is now cached; re-submit to read it.
				done, err := p.Submit(ctx, query, hints)
				if err != nil {
					return err
				}
				if done.Cached {
					fmt.Printf("\n%s\n", done.Result.Content)
				}
				return nil
			case types.EventFailed:
				return fmt.Errorf("research failed: %s", ev.Message)
			}
		}
	}
}
