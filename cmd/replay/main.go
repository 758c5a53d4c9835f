// Command replay runs scripted viewing scenarios against the coordinator
// with a simulated player and prints what it observed after each step.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/quiz"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/replay"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		bankPath   string
		outputText bool
		verbose    bool
	)

	root := &cobra.Command{
		Use:          "replay",
		Short:        "Replay scripted viewing sessions against the video agent coordinator",
		SilenceUsage: true,
	}

	run := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print the state after every step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := replay.LoadScenario(args[0])
			if err != nil {
				return err
			}

			runner := &replay.Runner{}
			if bankPath != "" {
				bank, err := quiz.LoadBank(bankPath)
				if err != nil {
					return fmt.Errorf("failed to load quiz bank: %w", err)
				}
				runner.Questions = bank
			}
			if verbose {
				runner.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			report, err := runner.Run(ctx, sc)
			if err != nil {
				return err
			}
			if outputText {
				return writeText(out, report)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	run.Flags().StringVar(&bankPath, "bank", "", "YAML quiz bank (default: built-in questions)")

	root.PersistentFlags().BoolVar(&outputText, "text", false, "Human-readable text output (default is JSON)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log coordinator activity to stderr")
	root.AddCommand(run)
	root.SetContext(context.Background())
	return root
}

func writeText(w io.Writer, report *replay.Report) error {
	var b strings.Builder
	if report.Scenario != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", report.Scenario)
	}
	for _, st := range report.Steps {
		fmt.Fprintf(&b, "%2d. %-26s %-27s paused=%-5t t=%.1f\n", st.Step, st.Label, st.State, st.PlayerPaused, st.CurrentTime)
		if st.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", st.Error)
		}
		for _, m := range st.Messages {
			fmt.Fprintf(&b, "    - %s\n", m)
		}
	}
	fmt.Fprintf(&b, "Player calls: pause=%d element_pause=%d pause_event=%d play=%d\n",
		report.Calls.Pause, report.Calls.ElementPause, report.Calls.PauseEvent, report.Calls.Play)
	_, err := io.WriteString(w, b.String())
	return err
}
