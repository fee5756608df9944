package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"halo/internal/config"
	"halo/internal/diag"
	"halo/internal/pipeline"
	"halo/internal/quiz"
	"halo/internal/server"
	"halo/pkg/contract"
)

var pipelineRun = pipeline.Run

func newTransformCommand(app *appContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "transform [pages...]",
		Short: "Rewrite pages (files, directories, URLs or - for stdin) at the learner's level",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd, args)
			if err != nil {
				return err
			}
			if len(cfg.Inputs) == 0 {
				return setupError("no inputs", contract.ErrInvalidInput)
			}
			ctx := cmd.Context()
			rt, err := app.assemble(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			term := diag.NewTerminal(app.stderr, app.status)
			diag.SetTerminal(term)
			defer diag.SetTerminal(nil)

			t := app.logger.Start("pipeline", "run")
			results, err := pipelineRun(ctx, rt.Components, rt.Settings, app.logger)
			if jsonOut {
				if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil && err == nil {
					err = werr
				}
			}
			if err != nil {
				code := diag.Classify(err)
				diag.IncOp("pipeline", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("pipeline", string(code))
				}
				return err
			}
			t.Finish("run", int64(len(results)))
			diag.IncOp("pipeline", "finish", "success")
			diag.ObserveDuration("pipeline", "finish", time.Since(app.start).Milliseconds())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print per-page results as JSON on stdout")
	return cmd
}

// openPage 装配运行期并打开单个页面；返回的 Runtime 由调用方关闭。
func (a *appContext) openPage(cmd *cobra.Command, page string) (*config.Runtime, contract.Tab, error) {
	cfg, err := a.loadConfig(cmd, []string{page})
	if err != nil {
		return nil, nil, err
	}
	rt, err := a.assemble(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	tabs, err := rt.Components.Open(cmd.Context(), cfg.Inputs)
	if err == nil && len(tabs) == 0 {
		err = fmt.Errorf("%s: %w", page, contract.ErrNoActiveTab)
	}
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	return rt, tabs[0], nil
}

func newQuizCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "quiz <page>",
		Short: "Generate a comprehension quiz for a page or YouTube video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, tab, err := app.openPage(cmd, args[0])
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			level := rt.Settings.Level
			if level == "" {
				learner, lerr := rt.Components.Learner.Load(ctx)
				if lerr != nil {
					app.logger.Warn("cli", "learner settings unavailable, using defaults", map[string]string{"error": lerr.Error()})
				}
				level = learner.Level
			}
			g := &quiz.Generator{
				Bridge:      rt.Components.Bridge,
				Transcripts: rt.Components.Transcripts,
				Factory:     rt.Components.Sessions,
				Logger:      app.logger,
				Status: func(msg string) {
					if app.status {
						fmt.Fprintln(app.stderr, msg)
					}
				},
			}
			q, err := g.Generate(ctx, tab.ID(), level)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return &exitError{code: exitRuntime, msg: quiz.FailureText(err), err: err}
			}
			return writeJSON(cmd.OutOrStdout(), q)
		},
	}
}

func newFocusCommand(app *appContext) *cobra.Command {
	var on, off bool
	cmd := &cobra.Command{
		Use:   "focus <page>",
		Short: "Toggle focus mode on a page and save the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled *bool
			switch {
			case on && off:
				return setupError("focus", errors.New("--on and --off are mutually exclusive"))
			case on, off:
				v := on
				enabled = &v
			}
			rt, tab, err := app.openPage(cmd, args[0])
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			resp, err := pipeline.ToggleFocus(ctx, rt.Components, tab.ID(), enabled, app.logger)
			if err != nil {
				return err
			}
			if sv, ok := tab.(pipeline.Saver); ok && rt.Components.Writer != nil {
				if err := sv.Save(ctx, rt.Components.Writer); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), resp.Focus)
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "Enable focus mode instead of toggling")
	cmd.Flags().BoolVar(&off, "off", false, "Disable focus mode instead of toggling")
	return cmd
}

func newServeCommand(app *appContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bridge and transform flows over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			ctx := cmd.Context()
			rt, err := app.assemble(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			gin.SetMode(gin.ReleaseMode)
			srv := server.New(rt.Components, rt.Settings, app.logger)
			fmt.Fprintf(app.stderr, "Listening on http://%s\n", cfg.Serve.Addr)
			if err := srv.Run(ctx, cfg.Serve.Addr); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides serve.addr)")
	return cmd
}
