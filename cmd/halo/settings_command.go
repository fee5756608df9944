package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"halo/internal/prompt"
	"halo/internal/settings"
	"halo/pkg/contract"
)

func newSettingsCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored learner settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the learner settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openSettings(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	})
	cmd.AddCommand(newSettingsSetCommand(app))
	return cmd
}

func newSettingsSetCommand(app *appContext) *cobra.Command {
	var (
		level  string
		native string
		goals  []string
		pool   int
		focus  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update learner settings; unspecified fields keep their stored values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openSettings(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			v, err := store.Load(ctx)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("learner-level") {
				v.Level = prompt.Level(level)
			}
			if flags.Changed("native-language") {
				v.NativeLanguage = native
			}
			if flags.Changed("goals") {
				v.LearningGoals = goals
			}
			if flags.Changed("session-pool-size") {
				n := pool
				v.SessionPoolSize = &n
			}
			if flags.Changed("focus") {
				v.FocusMode = focus
			}
			if err := v.Validate(); err != nil {
				return setupError("invalid settings", err)
			}
			if err := store.Save(ctx, v); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	f := cmd.Flags()
	f.StringVar(&level, "learner-level", "", "CEFR level A1..C2")
	f.StringVar(&native, "native-language", "", "Learner's native language")
	f.StringSliceVar(&goals, "goals", nil, "Learning goals (comma separated)")
	f.IntVar(&pool, "session-pool-size", 0, "Session pool limit")
	f.BoolVar(&focus, "focus", false, "Focus mode preference")
	return cmd
}

// openSettings 只需要 settings_db，不校验其余配置。
func (a *appContext) openSettings(cmd *cobra.Command) (*settings.Store, error) {
	cfg, err := a.loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	if cfg.SettingsDB == "" {
		return nil, setupError("settings", fmt.Errorf("settings_db is not configured: %w", contract.ErrInvalidInput))
	}
	return settings.Open(cmd.Context(), cfg.SettingsDB, a.logger)
}
