package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crucible/internal/knowledge"
	"crucible/internal/normalize"
)

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	message := strings.Join(args, " ")

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	suggestion := store.SuggestFix(ctx, knowledge.ErrorInput{Message: message})
	if suggestion == nil {
		fmt.Fprintf(out, "No known fix for: %s\n", normalize.Signature(message))
		fmt.Fprintf(out, "Category: %s\n", normalize.Classify(message))
		return nil
	}

	fmt.Fprintf(out, "Matched:    %s\n", suggestion.Signature)
	fmt.Fprintf(out, "Similarity: %.1f\n", suggestion.Similarity)
	fmt.Fprintf(out, "Confidence: %.2f\n", suggestion.Confidence)
	fmt.Fprintf(out, "Fix:        %s\n", suggestion.Solution)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ExportToFile(ctx, args[0]); err != nil {
		return err
	}

	stats := store.Stats(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", stats.TotalEntries, args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	before := store.Stats(ctx).TotalEntries
	if err := store.ImportFromFile(ctx, args[0]); err != nil {
		return err
	}
	after := store.Stats(ctx).TotalEntries

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d entries (%d new or merged)\n", args[0], after, after-before)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := store.Stats(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entries:           %d\n", stats.TotalEntries)
	fmt.Fprintf(out, "Session records:   %d\n", stats.TotalRecords)
	fmt.Fprintf(out, "Resolved:          %d\n", stats.ResolvedCount)
	fmt.Fprintf(out, "Avg success rate:  %.2f\n", stats.AvgSuccessRate)
	if len(stats.ByCategory) > 0 {
		fmt.Fprintln(out, "By category:")
		for _, cat := range normalize.Categories() {
			if n, ok := stats.ByCategory[cat]; ok && n > 0 {
				fmt.Fprintf(out, "  %-18s %d\n", cat, n)
			}
		}
	}
	return nil
}
