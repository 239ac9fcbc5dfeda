package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
)

func compositesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "composites",
		Aliases: []string{"composite"},
		Short:   "Manage composite rules",
		Long: `Composite rules combine other rules with AND or OR. An AND composite fires
when every component matches and is as confident as its weakest component; an
OR composite fires when any component matches and takes the strongest one.`,
	}

	cmd.AddCommand(compositesAddCmd())
	cmd.AddCommand(compositesListCmd())
	cmd.AddCommand(compositesDeactivateCmd())

	return cmd
}

func compositesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add <operator> <rule-id>...",
		Short:   "Create a composite rule",
		Example: `  spice composites add AND 12 31 --category Transportation --weight 1.5`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			operator, err := model.ParseOperator(args[0])
			if err != nil {
				return err
			}
			components, err := parseRuleIDs(args[1:])
			if err != nil {
				return err
			}
			categoryRef, _ := cmd.Flags().GetString("category")
			weight, _ := cmd.Flags().GetFloat64("weight")

			eng, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			cat, err := resolveCategory(ctx, store, categoryRef)
			if err != nil {
				return err
			}

			composite, err := eng.CreateComposite(ctx, engine.CompositeInput{
				Operator:   operator,
				Origin:     model.OriginUser,
				Components: components,
				CategoryID: cat.ID,
				Weight:     weight,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created composite %d: %s(%s) → %s",
				composite.ID, composite.Operator, formatIDs(composite.Components), cat.Name)))
			return nil
		},
	}

	cmd.Flags().StringP("category", "c", "", "Category name or ID")
	cmd.Flags().Float64P("weight", "w", model.DefaultConfidenceWeight, "Confidence weight")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func compositesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List composite rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			showAll, _ := cmd.Flags().GetBool("all")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			names, err := categoryNames(ctx, store)
			if err != nil {
				return err
			}

			composites, err := store.AllComposites(ctx)
			if err != nil {
				return fmt.Errorf("failed to get composites: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tOPERATOR\tCOMPONENTS\tCATEGORY\tWEIGHT\tUSES\tSUCCESS\tSTATUS")
			_, _ = fmt.Fprintln(w, "──\t────────\t──────────\t────────\t──────\t────\t───────\t──────")

			for _, composite := range composites {
				if !showAll && !composite.Active {
					continue
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%d\t%s\t%s\n",
					composite.ID,
					composite.Operator,
					formatIDs(composite.Components),
					names[composite.CategoryID],
					composite.ConfidenceWeight,
					composite.UsageCount,
					successRate(composite.UsageCount, composite.SuccessCount),
					activeLabel(composite.Active))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolP("all", "a", false, "Include inactive composites")
	return cmd
}

func compositesDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop a composite from producing suggestions",
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

			if err := eng.DeactivateComposite(ctx, id); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Composite %d deactivated", id)))
			return nil
		},
	}
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
