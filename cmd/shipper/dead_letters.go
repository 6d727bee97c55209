package main

import (
	"errors"
	"fmt"

	"elb-shipper/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters [YYYY-MM-DD]",
	Short: "List abandoned jobs recorded under DEAD_LETTER_DIR",
	Long: `Without arguments, prints every recorded day with its entry count.
With a day, prints that day's entries as JSON lines.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dead, err := worker.NewDeadLetter(cfg.DeadLetterDir, cfg.DeadLetterMaxSize, m)
		if err != nil {
			return err
		}
		if dead == nil {
			return errors.New("DEAD_LETTER_DIR is not set")
		}

		out := cmd.OutOrStdout()

		if len(args) == 1 {
			entries, err := dead.Entries(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				line, err := json.Marshal(e)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
			}
			return nil
		}

		days, err := dead.Days()
		if err != nil {
			return err
		}
		for _, day := range days {
			entries, err := dead.Entries(day)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%d\n", day, len(entries))
		}
		return nil
	},
}
