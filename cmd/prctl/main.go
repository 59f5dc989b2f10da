// Command prctl is the operator CLI for the PR approval engine. It talks to
// the engine's gRPC API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-pr-approvals/internal/client"
)

type globalOptions struct {
	addr    string
	token   string
	as      string
	roles   string
	timeout time.Duration
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "prctl",
		Short:         "Operate the purchase request approval engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.out = cmd.OutOrStdout()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", envOr("PRCTL_ADDR", "localhost:9090"), "Engine gRPC address")
	flags.StringVar(&opts.token, "token", os.Getenv("PRCTL_TOKEN"), "Bearer token")
	flags.StringVar(&opts.as, "as", os.Getenv("PRCTL_EMPLOYEE"), "Employee code to act as (development servers only)")
	flags.StringVar(&opts.roles, "roles", os.Getenv("PRCTL_ROLES"), "Comma-separated roles sent with --as")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-call timeout")

	cmd.AddCommand(
		newImportCmd(opts),
		newHierarchyCmd(opts),
		newRuleCmd(opts),
		newPRCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// dial opens an engine client and a context bounded by --timeout.
func (o *globalOptions) dial(ctx context.Context) (*client.EngineGRPCClient, context.Context, func(), error) {
	creds := client.Credentials{Token: o.token, EmployeeCode: o.as}
	for _, r := range strings.Split(o.roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			creds.Roles = append(creds.Roles, strings.ToUpper(r))
		}
	}
	c, err := client.NewEngineGRPCClient(o.addr, creds)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect %s: %w", o.addr, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	return c, callCtx, func() {
		cancel()
		_ = c.Close()
	}, nil
}

func (o *globalOptions) print(v interface{}) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// describe renders gRPC status errors as "Code: message".
func describe(err error) string {
	var withStatus interface{ GRPCStatus() *status.Status }
	if errors.As(err, &withStatus) {
		s := withStatus.GRPCStatus()
		return fmt.Sprintf("%s: %s", s.Code(), s.Message())
	}
	return err.Error()
}
