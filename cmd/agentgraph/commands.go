package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/agentgraph/internal/api"
	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/diagram"
	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/internal/scheduler"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/mcp"
	"github.com/rendis/agentgraph/pkg/schema"
)

// cli carries state shared by the command tree.
type cli struct {
	configPath string
	cfg        *Config
	// invoker replaces the HTTP LLM client; set by tests.
	invoker llm.Invoker
}

func newRootCmd() *cobra.Command {
	return newCLI(&cli{})
}

func newCLI(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentgraph",
		Short:         "Run graphs of LLM agents",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.agentgraph/agentgraph.yaml)")

	root.AddCommand(
		c.runCmd(),
		c.orderCmd(),
		c.diagramCmd(),
		c.importCmd(),
		c.agentsCmd(),
		c.credentialsCmd(),
		c.serveCmd(),
		c.mcpCmd(),
	)
	return root
}

// open wires the application for one command. Logs go to stderr so stdout
// stays clean for command output and the MCP transport.
func (c *cli) open(ctx context.Context, cmd *cobra.Command) (*app, error) {
	return newApp(ctx, c.cfg, cmd.ErrOrStderr(), c.invoker)
}

func (c *cli) runCmd() *cobra.Command {
	var policyFlag string
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Execute a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policy *engine.ContinuationPolicy
			if policyFlag != "" {
				p, err := engine.ParseContinuationPolicy(policyFlag)
				if err != nil {
					return err
				}
				policy = &p
			}

			a, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.runner.Run(cmd.Context(), args[0], policy)
			if res != nil {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&policyFlag, "policy", "", "continuation policy: fail_fast or continue_on_error")
	return cmd
}

func (c *cli) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <workflow-id>",
		Short: "Print the execution order of a workflow without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.runner.Order(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "main: %s\n", view.Main)
			for i, id := range view.Order {
				fmt.Fprintf(out, "%d. %s\n", i+1, id)
			}
			for _, id := range view.Unscheduled {
				fmt.Fprintf(out, "skipped (cycle): %s\n", id)
			}
			for _, id := range view.Unreachable {
				fmt.Fprintf(out, "skipped (unreachable): %s\n", id)
			}
			return nil
		},
	}
}

func (c *cli) diagramCmd() *cobra.Command {
	var format, runID, output string
	cmd := &cobra.Command{
		Use:   "diagram <workflow-id>",
		Short: "Render a workflow graph as mermaid, ascii or png",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, err := a.runner.Workflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var states map[string]*store.NodeState
			if runID != "" {
				view, err := a.runner.Status(cmd.Context(), runID)
				if err != nil {
					return err
				}
				states = view.Nodes
			}
			model, err := diagram.Build(wf, states)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case "png":
				if output == "" {
					return schema.NewError(schema.ErrCodeValidation, "--output is required for png")
				}
				if data, err = diagram.RenderImage(model); err != nil {
					return err
				}
			default:
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format)
			}

			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "mermaid, ascii or png")
	cmd.Flags().StringVar(&runID, "run", "", "overlay node states recorded by this run")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Validate and store a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.validator.ValidateDocument(raw); err != nil {
				return err
			}
			var wf schema.Workflow
			if err := json.Unmarshal(raw, &wf); err != nil {
				return fmt.Errorf("decode workflow: %w", err)
			}
			if id != "" {
				wf.ID = id
			}
			if wf.ID == "" {
				wf.ID = uuid.NewString()
			}

			result := a.validator.Validate(&wf)
			if err := result.ToError(); err != nil {
				return err
			}
			if _, err := a.runner.SaveWorkflow(cmd.Context(), wf.ID, &wf); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
			}
			fmt.Fprintf(out, "imported workflow %s\n", wf.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (overrides the document id)")
	return cmd
}

func (c *cli) agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent definitions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "import <catalog.yaml>",
			Short: "Validate and store every agent in a catalog file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.open(cmd.Context(), cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				n, err := a.importAgents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d agents\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored agent definitions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := c.open(cmd.Context(), cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCATEGORY\tNAME")
				for _, def := range a.catalog.Agents() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", def.ID, def.Category, def.Name)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func (c *cli) credentialsCmd() *cobra.Command {
	var model, provider string
	set := &cobra.Command{
		Use:   "set <user-id> <api-key>",
		Short: "Store an encrypted API key for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.vault == nil {
				return schema.NewError(schema.ErrCodeConfiguration, "vault.passphrase is not configured")
			}
			if err := a.vault.Put(cmd.Context(), args[0], provider, credentials.Credentials{APIKey: args[1], Model: model}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored credentials for %s\n", args[0])
			return nil
		},
	}
	set.Flags().StringVar(&model, "model", "", "model to use with this key")
	set.Flags().StringVar(&provider, "provider", credentials.DefaultProvider, "credentials provider")

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage per-user LLM credentials",
	}
	cmd.AddCommand(set)
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.NewScheduler(a.store, a.runner, a.logger, scheduler.WithMetrics(a.metrics))
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = sched.Stop() }()

			srv := api.NewServer(api.Deps{
				Runner:    a.runner,
				Store:     a.store,
				Catalog:   a.catalog,
				Validator: a.validator,
				Hub:       a.hub,
				Metrics:   a.metrics,
				Gatherer:  a.registry,
				Logger:    a.logger,
			})

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", slog.String("addr", a.cfg.HTTP.Addr))
				errCh <- srv.Start(a.cfg.HTTP.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.logger.Info("http server stopped")
			return nil
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agentgraph tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerDeps{
				Runner:    a.runner,
				Workflows: a.store,
				Catalog:   a.catalog,
				Hub:       a.hub,
				Logger:    a.logger,
			})
			return srv.Serve(ctx)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
