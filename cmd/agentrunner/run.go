package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Sris945/agentrunner/internal/history"
	"github.com/Sris945/agentrunner/internal/joblog"
	"github.com/Sris945/agentrunner/internal/model"
	"github.com/Sris945/agentrunner/internal/orchestrator"
	"github.com/Sris945/agentrunner/internal/provision"
	"github.com/Sris945/agentrunner/internal/service"
	"github.com/Sris945/agentrunner/internal/tui"
)

const (
	projectStateDir = ".agentrunner"
	historyFileName = "history.db"
)

type runFlags struct {
	project        string
	persona        string
	painPoints     string
	useCases       string
	successMetrics string
	tui            bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run provisions the environment and executes the agent on a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return doRun(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.project, "project", "", "project directory to refactor (default current directory)")
	cmd.Flags().StringVar(&flags.persona, "persona", "", "who the restructured project is for")
	cmd.Flags().StringVar(&flags.painPoints, "pain-points", "", "current problems with the project structure")
	cmd.Flags().StringVar(&flags.useCases, "use-cases", "", "how the project is used")
	cmd.Flags().StringVar(&flags.successMetrics, "success-metrics", "", "what a good result looks like (default \""+model.DefaultSuccessMetrics+"\")")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "show live progress in an interactive terminal view")
	return cmd
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "setup creates the Python environment and installs the agent dependencies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		home, _, err := agentPaths(config.Agent)
		if err != nil {
			return err
		}
		orch := orchestrator.New(home, provision.New(config.Python), nil, joblog.New(""), newConsole(cmd.OutOrStdout(), cmd.ErrOrStderr()))
		env, err := orch.Setup(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "python: %s\n", env.Python)
		return err
	},
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "history lists recorded agent invocations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmdContext(cmd)
			rec, err := history.Open(ctx, historyPath(config.Service))
			if err != nil {
				return err
			}
			defer func() { _ = rec.Close() }()

			rows, err := rec.List(ctx, limit)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), row.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of invocations to list, 0 lists all")
	return cmd
}

func doRun(cmd *cobra.Command, flags runFlags) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projectDir := flags.project
	if projectDir == "" {
		projectDir = "."
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolving project directory: %w", err)
	}

	creds, err := model.ResolveCredentials(config.Watsonx, projectDir)
	if err != nil {
		return err
	}
	req := model.JobRequest{
		ProjectDir: projectDir,
		Params: model.Params{
			Persona:        flags.persona,
			PainPoints:     flags.painPoints,
			UseCases:       flags.useCases,
			SuccessMetrics: flags.successMetrics,
		},
		Credentials: creds,
	}

	home, script, err := agentPaths(config.Agent)
	if err != nil {
		return err
	}
	agentCfg := config.Agent
	agentCfg.Script = script
	supervisor, err := service.NewSupervisor(service.NewRunner(), agentCfg)
	if err != nil {
		return err
	}

	logDir := config.Service.LogDir
	if logDir == "" {
		logDir = filepath.Join(projectDir, projectStateDir)
	}
	sink := joblog.New(logDir)
	defer func() { _ = sink.Close() }()

	rec, err := history.Open(ctx, historyPath(config.Service))
	if err != nil {
		slog.WarnContext(ctx, "invocation history disabled", "error", err)
		rec = nil
	} else {
		defer func() { _ = rec.Close() }()
	}

	build := func(host orchestrator.Host) *orchestrator.Orchestrator {
		orch := orchestrator.New(home, provision.New(config.Python), supervisor, sink, host)
		if rec != nil {
			orch.WithHistory(rec)
		}
		return orch
	}

	if !flags.tui {
		_, err := build(newConsole(cmd.OutOrStdout(), cmd.ErrOrStderr())).Run(ctx, req)
		return err
	}
	return runTUI(ctx, req, build)
}

func runTUI(ctx context.Context, req model.JobRequest, build func(orchestrator.Host) *orchestrator.Orchestrator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := tui.New("agentrunner · "+req.ProjectDir, cancel)
	p := tea.NewProgram(m)
	host := tui.NewHost(p)
	orch := build(host)

	done := make(chan error, 1)
	go func() {
		out, err := orch.Run(ctx, req)
		host.Finish(out, err)
		done <- err
	}()

	if _, err := p.Run(); err != nil && !m.Done() {
		slog.DebugContext(ctx, "terminal view stopped", "error", err)
	}
	// the view may be closed before the outcome arrived
	cancel()
	return <-done
}

// agentPaths returns the agent home and the absolute script path.
func agentPaths(cfg model.Agent) (home, script string, err error) {
	script, err = filepath.Abs(cfg.Script)
	if err != nil {
		return "", "", fmt.Errorf("resolving agent script: %w", err)
	}
	home = cfg.Home
	if home == "" {
		home = filepath.Dir(script)
	}
	home, err = filepath.Abs(home)
	if err != nil {
		return "", "", fmt.Errorf("resolving agent home: %w", err)
	}
	return home, script, nil
}

func historyPath(cfg model.Service) string {
	if cfg.History != "" {
		return cfg.History
	}
	return filepath.Join(userConfigPath, historyFileName)
}

// console prints notifications as plain lines.
type console struct {
	out io.Writer
	err io.Writer
}

func newConsole(out, err io.Writer) console {
	return console{out: out, err: err}
}

func (c console) Progress(_ context.Context, msg string) { _, _ = fmt.Fprintln(c.out, "  "+msg) }
func (c console) Info(_ context.Context, msg string)     { _, _ = fmt.Fprintln(c.out, msg) }
func (c console) Error(_ context.Context, msg string)    { _, _ = fmt.Fprintln(c.err, "error: "+msg) }
