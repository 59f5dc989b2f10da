package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-pr-approvals/internal/auth"
	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
)

// ── import ───────────────────────────────────────────────────────────────────

func newImportCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import organization data from CSV",
	}

	var deactivateMissing bool
	employees := &cobra.Command{
		Use:   "employees <file.csv>",
		Short: "Import employees; invalid rows are reported, valid rows are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := parseEmployeesCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			res, err := c.ImportEmployees(ctx, pb.ImportEmployeesRequest{Rows: rows, DeactivateMissing: deactivateMissing})
			if err != nil {
				return err
			}
			return opts.print(res)
		},
	}
	employees.Flags().BoolVar(&deactivateMissing, "deactivate-missing", false, "Deactivate employees absent from the file")

	branches := &cobra.Command{
		Use:   "branches <file.csv>",
		Short: "Create or replace branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := parseBranchesCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			saved := make([]*pb.Branch, 0, len(rows))
			for _, row := range rows {
				b, err := c.UpsertBranch(ctx, row)
				if err != nil {
					return fmt.Errorf("branch %s: %w", row.Code, err)
				}
				saved = append(saved, b)
			}
			return opts.print(saved)
		},
	}

	cmd.AddCommand(employees, branches)
	return cmd
}

// ── hierarchy ────────────────────────────────────────────────────────────────

func newHierarchyCmd(opts *globalOptions) *cobra.Command {
	var branch string
	var anomaliesOnly bool
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Print the resolved reporting hierarchy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			h, err := c.ResolveHierarchy(ctx, branch)
			if err != nil {
				return err
			}
			if anomaliesOnly {
				return opts.print(h.Anomalies)
			}
			return opts.print(h)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "Limit output to one branch")
	cmd.Flags().BoolVar(&anomaliesOnly, "anomalies", false, "Print only data anomalies")
	return cmd
}

// ── rule ─────────────────────────────────────────────────────────────────────

func newRuleCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Read or change a branch approval rule",
	}

	get := &cobra.Command{
		Use:   "get <branch>",
		Short: "Show the rule in effect for a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			rule, err := c.GetRule(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(rule)
		},
	}

	var need bool
	var note string
	set := &cobra.Command{
		Use:   "set <branch>",
		Short: "Replace a branch rule; applies to submissions from now on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			rule, err := c.SetRule(ctx, pb.SetRuleRequest{
				BranchCode:                args[0],
				NeedBranchManagerApproval: need,
				Note:                      note,
			})
			if err != nil {
				return err
			}
			return opts.print(rule)
		},
	}
	set.Flags().BoolVar(&need, "need-branch-manager", true, "Require branch manager approval")
	set.Flags().StringVar(&note, "note", "", "Free-text note stored with the rule")

	cmd.AddCommand(get, set)
	return cmd
}

// ── pr ───────────────────────────────────────────────────────────────────────

func newPRCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Inspect and act on purchase requests",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a purchase request and its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			pr, err := c.GetRequest(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(pr)
		},
	}

	var manualManager string
	submit := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a draft or returned purchase request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			pr, err := c.SubmitRequest(ctx, pb.SubmitRequestRequest{ID: args[0], ManualManagerCode: manualManager})
			if err != nil {
				return err
			}
			return opts.print(pr)
		},
	}
	submit.Flags().StringVar(&manualManager, "manual-manager", "", "Assign the first approver by hand when routing cannot resolve one")

	var reason, assignee, expectedStage string
	decide := &cobra.Command{
		Use:   "decide <id> <APPROVE|REJECT|RETURN|CANCEL|CLOSE>",
		Short: "Apply a decision to the current stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pb.ApplyDecisionRequest{
				ID:       args[0],
				Decision: strings.ToUpper(args[1]),
				Reason:   reason,
				Assignee: assignee,
			}
			if expectedStage != "" {
				n, err := strconv.Atoi(expectedStage)
				if err != nil || n < 0 {
					return fmt.Errorf("invalid --expected-stage %q", expectedStage)
				}
				req.ExpectedStage = &n
			}

			c, ctx, done, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			pr, err := c.ApplyDecision(ctx, req)
			if err != nil {
				return err
			}
			return opts.print(pr)
		},
	}
	decide.Flags().StringVar(&reason, "reason", "", "Reason (required for REJECT, RETURN and CLOSE)")
	decide.Flags().StringVar(&assignee, "assignee", "", "Buyer to assign when the buyer leader approves")
	decide.Flags().StringVar(&expectedStage, "expected-stage", "", "Fail if the request has moved past this stage index")

	cmd.AddCommand(get, submit, decide)
	return cmd
}

// ── token ────────────────────────────────────────────────────────────────────

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <employee-code>",
		Short: "Sign an access token with the server's JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewAuthenticator(secret, false).Issue(args[0], auth.ParseRoles(opts.roles), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(opts.out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "Token lifetime")
	return cmd
}
