package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/ofx"
)

func suggestCmd() *cobra.Command {
	var in transactionInput

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest categories for a transaction",
		Long: `Rank categories for one transaction described by flags, or for every
transaction in an OFX/QFX statement with --ofx.`,
		Example: `  spice suggest --merchant "UBER *TRIP" --amount -18.40 --date "2024-03-08 19:30"
  spice suggest --ofx statement.qfx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ofxPath, _ := cmd.Flags().GetString("ofx")
			limit, _ := cmd.Flags().GetInt("max")

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if ofxPath != "" {
				return suggestStatement(ctx, cmd, eng, ofxPath)
			}

			txn, err := in.Transaction(time.Now())
			if err != nil {
				return err
			}

			suggestions, err := eng.Suggest(ctx, txn, limit)
			if err != nil {
				return err
			}
			return printSuggestions(cmd.OutOrStdout(), txn, suggestions)
		},
	}

	cmd.Flags().StringVarP(&in.Merchant, "merchant", "m", "", "Merchant name")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "Transaction description")
	cmd.Flags().StringVarP(&in.Amount, "amount", "a", "", "Signed amount (debits negative)")
	cmd.Flags().StringVar(&in.Date, "date", "", "Date and time (default: now)")
	cmd.Flags().IntP("max", "n", 0, "Maximum suggestions (default from config)")
	cmd.Flags().String("ofx", "", "Suggest for every transaction in an OFX/QFX file")
	return cmd
}

func printSuggestions(out io.Writer, txn model.Transaction, suggestions model.Suggestions) error {
	_, _ = fmt.Fprintln(out, cli.FormatTitle(txn.DisplayName()))

	if len(suggestions) == 0 {
		_, _ = fmt.Fprintln(out, cli.SubtleStyle.Render("No rule matched this transaction."))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tCATEGORY\tSCORE\tCONFIDENCE\tRULE\tREASON")
	for i, s := range suggestions {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%d\t%s\n",
			i+1, s.Category, cli.FormatScore(s.Score), s.Confidence, s.RuleID, s.Reason)
	}
	return w.Flush()
}

// statementResult is the best suggestion for one statement line.
type statementResult struct {
	top *model.Suggestion
	txn model.Transaction
}

func suggestStatement(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	stmt, err := ofx.NewParser().Parse(ctx, file)
	if err != nil {
		return err
	}

	results, err := rankStatement(ctx, eng, stmt.Transactions, appConfig.Engine.BatchWorkers,
		cli.Step(cli.NewProgressBar(cmd.ErrOrStderr(), len(stmt.Transactions), "Ranking transactions...")))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tMERCHANT\tAMOUNT\tCATEGORY\tSCORE\tRULE")
	matched := 0
	for _, r := range results {
		category, score, rule := cli.SubtleStyle.Render("(none)"), "-", "-"
		if r.top != nil {
			matched++
			category = r.top.Category
			score = cli.FormatScore(r.top.Score)
			rule = fmt.Sprintf("%d", r.top.RuleID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.txn.Date.Format("2006-01-02"),
			truncateString(r.txn.DisplayName(), 32),
			r.txn.Amount.StringFixed(2),
			category, score, rule)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%d of %d transactions matched a rule", matched, len(results))))
	return nil
}

// rankStatement suggests for every transaction against one rule snapshot,
// using at most workers goroutines. Results keep the input order.
func rankStatement(ctx context.Context, eng *engine.Engine, txns []model.Transaction, workers int, progress func()) ([]statementResult, error) {
	rules, composites, err := eng.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]statementResult, len(txns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i := range txns {
		g.Go(func() error {
			suggestions, err := eng.SuggestWith(gctx, txns[i], rules, composites, 1)
			if err != nil {
				return fmt.Errorf("transaction %s: %w", txns[i].ID, err)
			}
			results[i] = statementResult{txn: txns[i], top: suggestions.Top()}
			if progress != nil {
				progress()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
