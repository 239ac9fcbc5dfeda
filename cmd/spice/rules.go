package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/rulepack"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage atomic pattern rules",
		Long: `Manage atomic pattern rules. Each rule matches one aspect of a transaction
(merchant, keyword, description, amount range, regex, or time) and points at a
category with a confidence weight.`,
	}

	cmd.AddCommand(rulesValidateCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesEditCmd())
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesSetActiveCmd("deactivate", false))
	cmd.AddCommand(rulesSetActiveCmd("activate", true))
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesSeedCmd())
	cmd.AddCommand(rulesExportCmd())

	return cmd
}

func rulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <type> <value>",
		Short: "Check a rule value without saving it",
		Long: `Validate a raw rule value against its type grammar and print the normalized
form. Types: ` + ruleTypeList() + `.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleType, err := model.ParseRuleType(args[0])
			if err != nil {
				return err
			}

			validator := pattern.NewValidator(appConfig.EngineConfig().Pattern)
			normalized, err := validator.ValidateAndNormalize(cmd.Context(), ruleType, args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Valid %s rule: %s", ruleType, normalized.Value)))
			printMetadata(out, normalized.Metadata)
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule",
		Example: `  spice rules add --type merchant --value "Whole Foods" --category Groceries
  spice rules add --type amount_range --value=-15--5 --category Coffee --weight 0.4
  spice rules add --type time --value weekend --category Entertainment`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			in, categoryRef, err := ruleInputFromFlags(cmd)
			if err != nil {
				return err
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
			in.CategoryID = cat.ID

			rule, err := eng.CreateRule(ctx, in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Created rule %d: %s %q → %s", rule.ID, rule.Type, rule.Value, cat.Name)))
			printMetadata(out, rule.Metadata)
			return nil
		},
	}

	addRuleFlags(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func rulesEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a rule's value, category or weight",
		Long:  `Edit an atomic rule. Flags that are not given keep their current value; counters are preserved.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			eng, store, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := store.GetRule(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load rule %d: %w", id, err)
			}

			in := engine.RuleInput{
				Type:       existing.Type,
				Value:      existing.Value,
				CategoryID: existing.CategoryID,
				Weight:     existing.ConfidenceWeight,
			}
			flags := cmd.Flags()
			if flags.Changed("type") {
				raw, _ := flags.GetString("type")
				if in.Type, err = model.ParseRuleType(raw); err != nil {
					return err
				}
			}
			if flags.Changed("value") {
				in.Value, _ = flags.GetString("value")
			}
			if flags.Changed("weight") {
				in.Weight, _ = flags.GetFloat64("weight")
			}
			if flags.Changed("category") {
				ref, _ := flags.GetString("category")
				cat, err := resolveCategory(ctx, store, ref)
				if err != nil {
					return err
				}
				in.CategoryID = cat.ID
			}

			rule, err := eng.UpdateRule(ctx, id, in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Updated rule %d: %s %q (weight %.2f)", rule.ID, rule.Type, rule.Value, rule.ConfidenceWeight)))
			printMetadata(out, rule.Metadata)
			return nil
		},
	}

	addRuleFlags(cmd)
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Long:  `List atomic rules with their weights and feedback counters.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			categoryRef, _ := cmd.Flags().GetString("category")
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

			var categoryID int64
			if categoryRef != "" {
				cat, err := resolveCategory(ctx, store, categoryRef)
				if err != nil {
					return err
				}
				categoryID = cat.ID
			}

			rules, err := store.AllRules(ctx)
			if err != nil {
				return fmt.Errorf("failed to get rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tVALUE\tCATEGORY\tWEIGHT\tUSES\tSUCCESS\tORIGIN\tSTATUS")
			_, _ = fmt.Fprintln(w, "──\t────\t─────\t────────\t──────\t────\t───────\t──────\t──────")

			shown := 0
			for _, rule := range rules {
				if (categoryID != 0 && rule.CategoryID != categoryID) || (!showAll && !rule.Active) {
					continue
				}
				shown++
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%d\t%s\t%s\t%s\n",
					rule.ID,
					rule.Type,
					truncateString(rule.Value, 30),
					names[rule.CategoryID],
					rule.ConfidenceWeight,
					rule.UsageCount,
					successRate(rule.UsageCount, rule.SuccessCount),
					rule.Origin,
					activeLabel(rule.Active))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if shown == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("No rules found. Use 'spice rules add' or 'spice rules seed'."))
			}
			return nil
		},
	}

	cmd.Flags().StringP("category", "c", "", "Filter by category name or ID")
	cmd.Flags().BoolP("all", "a", false, "Include inactive rules")
	return cmd
}

func rulesSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Stop a rule from producing suggestions"
	if active {
		short = "Re-enable a deactivated rule"
	}

	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
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

			if active {
				err = eng.ActivateRule(ctx, id)
			} else {
				err = eng.DeactivateRule(ctx, id)
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d %sd", id, use)))
			return nil
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Long: `Delete an atomic or composite rule. Rules used as a component of a composite
cannot be deleted; deactivate them instead. Feedback history is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("refusing to delete rule %d without --force", id)
			}

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.DeleteRule(ctx, id); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted rule %d", id)))
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "Confirm deletion")
	return cmd
}

func rulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <pack.yaml>",
		Short: "Import a YAML rule pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := rulepack.Load(args[0])
			if err != nil {
				return err
			}
			return importPack(cmd, pack, model.OriginUser)
		},
	}
}

func rulesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the built-in system rules",
		Long: `Install the built-in rule pack (payroll, transfers, fees, coffee, groceries,
rideshare and more). Running it again skips rules that already exist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return importPack(cmd, rulepack.SystemPack(), model.OriginSystem)
		},
	}
}

func rulesExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active rules as a YAML rule pack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, _ := cmd.Flags().GetString("name")
			output, _ := cmd.Flags().GetString("output")

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			pack, err := eng.ExportPack(ctx, name)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return pack.Write(cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := pack.Write(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Exported %d rules and %d composites to %s",
				len(pack.Rules), len(pack.Composites), output)))
			return nil
		},
	}

	cmd.Flags().String("name", "exported", "Pack name")
	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	return cmd
}

func importPack(cmd *cobra.Command, pack *rulepack.Pack, origin model.Origin) error {
	ctx := cmd.Context()

	eng, _, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(pack.Rules)+len(pack.Composites), "Importing "+pack.Name+"...")
	result, err := eng.ImportPack(ctx, pack, origin, cli.Step(bar))
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("Categories created: %d\nRules created:      %d (skipped %d)\nComposites created: %d (skipped %d)",
		result.CategoriesCreated,
		result.RulesCreated, result.RulesSkipped,
		result.CompositesCreated, result.CompositesSkipped)
	_, _ = fmt.Fprintln(out, cli.RenderBox("Imported "+pack.Name, summary))

	for _, importErr := range result.Errors {
		_, _ = fmt.Fprintln(out, cli.FormatWarning(importErr.Error()))
	}
	return nil
}

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("type", "t", "", "Rule type: "+ruleTypeList())
	cmd.Flags().StringP("value", "v", "", "Rule value")
	cmd.Flags().StringP("category", "c", "", "Category name or ID")
	cmd.Flags().Float64P("weight", "w", model.DefaultConfidenceWeight, "Confidence weight")
}

func ruleInputFromFlags(cmd *cobra.Command) (engine.RuleInput, string, error) {
	rawType, _ := cmd.Flags().GetString("type")
	value, _ := cmd.Flags().GetString("value")
	category, _ := cmd.Flags().GetString("category")
	weight, _ := cmd.Flags().GetFloat64("weight")

	ruleType, err := model.ParseRuleType(rawType)
	if err != nil {
		return engine.RuleInput{}, "", err
	}

	return engine.RuleInput{
		Type:   ruleType,
		Value:  value,
		Origin: model.OriginUser,
		Weight: weight,
	}, category, nil
}

func ruleTypeList() string {
	types := make([]string, len(model.RuleTypes))
	for i, t := range model.RuleTypes {
		types[i] = string(t)
	}
	return strings.Join(types, ", ")
}

func printMetadata(out io.Writer, metadata map[string]string) {
	if similar := metadata[model.MetaSimilarRuleIDs]; similar != "" {
		msg := "Similar rules in this category: " + similar
		if metadata[model.MetaHighSimilarity] == "true" {
			msg += " (many near-duplicates; consider consolidating)"
		}
		_, _ = fmt.Fprintln(out, cli.FormatWarning(msg))
	}

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		if key != model.MetaSimilarRuleIDs && key != model.MetaHighSimilarity {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		_, _ = fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("  %s: %s", key, metadata[key])))
	}
}

func successRate(usage, success int64) string {
	if usage == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", model.Counters(usage, success).SuccessRate()*100)
}

func activeLabel(active bool) string {
	if active {
		return cli.SuccessStyle.Render("active")
	}
	return cli.SubtleStyle.Render("inactive")
}
