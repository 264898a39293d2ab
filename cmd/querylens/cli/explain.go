package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/querylens/querylens/internal/model"
	"github.com/querylens/querylens/internal/query"
)

func newExplainCmd() *cobra.Command {
	var (
		dialect    string
		schemaFile string
		planFile   string
		noCache    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "explain <sql>",
		Short: "Explain a SQL query from the command line",
		Long: `Run the explanation pipeline once for the given statement and print the
result. Pass "-" as the statement to read SQL from stdin.`,
		Example: `  querylens explain "SELECT * FROM users WHERE email = 'a@b.c'"
  querylens explain --dialect sqlite --plan plan.txt "SELECT * FROM t"
  cat query.sql | querylens explain -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(args[0], dialect, schemaFile, planFile, noCache, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&dialect, "dialect", "postgres", "SQL dialect: postgres, mysql, or sqlite")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "Path to a DDL file providing schema context")
	cmd.Flags().StringVar(&planFile, "plan", "", "Path to a file with raw EXPLAIN output")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the explanation cache")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")

	return cmd
}

func runExplain(sql, dialect, schemaFile, planFile string, noCache, jsonOutput bool) error {
	if sql == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		sql = string(data)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	svc, _, coll := buildService(ctx, cfg, st, logger)
	if coll != nil {
		defer coll.Close()
	}

	req := model.ExplainRequest{
		SQL:     sql,
		Dialect: model.Dialect(dialect),
	}
	if schemaFile != "" {
		data, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read schema file: %w", err)
		}
		req.Schema = string(data)
	}
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return fmt.Errorf("read plan file: %w", err)
		}
		req.ExplainPlan = string(data)
	}
	if noCache {
		f := false
		req.Cache = &f
	}

	result, err := svc.Explain(ctx, req)
	if err != nil {
		return err
	}
	svc.Wait()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(result)
	return nil
}

func printResult(res *model.ExplanationResult) {
	fmt.Println(res.Summary)
	fmt.Println()

	if len(res.Walkthrough) > 0 {
		fmt.Println("Walkthrough:")
		for i, step := range res.Walkthrough {
			fmt.Printf("  %d. %s\n", i+1, step)
		}
		fmt.Println()
	}

	if len(res.PlanAnalysis) > 0 {
		fmt.Println("Plan analysis:")
		for _, node := range res.PlanAnalysis {
			fmt.Printf("  - %s: %s", node.Operation, node.Detail)
			if node.Concern != "" {
				fmt.Printf(" (concern: %s)", node.Concern)
			}
			fmt.Println()
		}
		fmt.Println()
	}

	if len(res.Optimizations) > 0 {
		fmt.Println("Optimizations:")
		for _, opt := range res.Optimizations {
			fmt.Printf("  [%s] %s\n", opt.Severity, opt.Title)
			if opt.Reason != "" {
				fmt.Printf("        %s\n", opt.Reason)
			}
			if opt.Change != "" {
				fmt.Printf("        %s\n", opt.Change)
			}
		}
		fmt.Println()
	}

	if len(res.Antipatterns) > 0 {
		fmt.Println("Antipatterns:")
		for _, ap := range res.Antipatterns {
			fmt.Printf("  - %s: %s\n", ap.Name, ap.Description)
		}
		fmt.Println()
	}

	if res.RewrittenSQL != "" {
		fmt.Println("Suggested rewrite:")
		fmt.Printf("  %s\n\n", res.RewrittenSQL)
	}

	cached := ""
	if res.Cached {
		cached = ", cached"
	}
	fmt.Printf("(confidence: %s, %dms%s)\n", res.Confidence, res.ExecutionTimeMs, cached)
}

func newFingerprintCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "fingerprint <sql>",
		Short: "Print the fingerprint of a SQL query",
		Long: `Compute the literal-independent fingerprint of a statement: its hash,
normalized pattern, referenced tables, join count, and WHERE complexity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := query.Fingerprint(args[0])

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(fp)
			}

			fmt.Printf("Hash:    %s\n", fp.Hash)
			fmt.Printf("Pattern: %s\n", fp.Pattern)
			fmt.Printf("Tables:  %v\n", fp.Tables)
			fmt.Printf("Joins:   %d\n", fp.JoinCount)
			fmt.Printf("Where:   %d condition(s)\n", fp.WhereComplexity)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
