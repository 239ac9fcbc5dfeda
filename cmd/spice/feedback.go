package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/model"
)

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record whether a suggestion was right",
		Long: `Record your verdict on a suggestion. Accepted feedback raises the rule's
success rate; rejected or corrected feedback lowers it. Omit --rule when no
rule produced the suggestion.`,
		Example: `  spice feedback --rule 12 --category Groceries --outcome accepted
  spice feedback --rule 12 --category Shopping --outcome corrected`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			categoryRef, _ := cmd.Flags().GetString("category")
			rawOutcome, _ := cmd.Flags().GetString("outcome")

			outcome, err := model.ParseOutcome(rawOutcome)
			if err != nil {
				return err
			}

			var ruleID *int64
			if cmd.Flags().Changed("rule") {
				raw, _ := cmd.Flags().GetString("rule")
				id, err := parseRuleID(raw)
				if err != nil {
					return err
				}
				ruleID = &id
			}

			eng, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			cat, err := resolveCategory(ctx, store, categoryRef)
			if err != nil {
				return err
			}

			stats, err := eng.RecordFeedback(ctx, ruleID, cat.ID, outcome)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Recorded %s feedback for %s", outcome, cat.Name)))
			if stats != nil {
				printStatistics(out, stats)
			}
			return nil
		},
	}

	cmd.Flags().StringP("rule", "r", "", "ID of the rule that produced the suggestion")
	cmd.Flags().StringP("category", "c", "", "Category the transaction belongs to")
	cmd.Flags().StringP("outcome", "o", string(model.OutcomeAccepted), "accepted, rejected or corrected")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <rule-id>",
		Short: "Show how a rule has performed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := eng.RuleStatistics(ctx, id)
			if err != nil {
				return err
			}

			printStatistics(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printStatistics(out io.Writer, stats *model.RuleStatistics) {
	content := fmt.Sprintf("Uses:         %d\nSuccesses:    %d\nSuccess rate: %s\nTrend:        %s (%d recent, %d prior)",
		stats.UsageCount,
		stats.SuccessCount,
		cli.FormatScore(stats.SuccessRate),
		stats.Trend,
		stats.RecentFeedback,
		stats.PriorFeedback)
	_, _ = fmt.Fprintln(out, cli.RenderBox(fmt.Sprintf("Rule %d", stats.RuleID), content))
}
