package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"halo/internal/config"
)

func newInitConfigCommand(app *appContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a runnable config template and a .env template (existing files are never overwritten)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			var names []string
			switch format {
			case "json":
				names = []string{"config.json"}
			case "toml":
				names = []string{"config.toml"}
			case "both":
				names = []string{"config.json", "config.toml"}
			default:
				return setupError("init-config", fmt.Errorf("unknown format %q (json, toml, both)", format))
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return setupError("init-config", err)
			}
			cfg := config.DefaultTemplateConfig()
			for _, name := range names {
				path := filepath.Join(dir, name)
				if err := writeConfig(path, cfg); err != nil {
					return setupError("init-config", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fmt.Fprintf(app.stderr, "Skipped .env template: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Template format: json, toml or both")
	return cmd
}

// writeConfig 按扩展名编码配置；不覆盖已存在文件。
func writeConfig(path string, c config.Config) error {
	var (
		b   []byte
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		b, err = config.EncodeTOML(c)
	} else {
		b, err = json.MarshalIndent(c, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := config.EnvPrefix
	var b strings.Builder
	b.WriteString("# Halo .env template (generated by init-config)\n")
	b.WriteString("# Precedence: CLI > ENV(.env) > config file\n")
	b.WriteString("# Empty values are ignored.\n\n")

	b.WriteString("# Config source (pick one)\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# Run overrides\n")
	for _, k := range []string{
		"INPUTS", "LEVEL", "SESSION_POOL_SIZE", "HARDWARE_CONCURRENCY", "MAX_RETRIES",
		"RETRY_DELAY_MS", "CACHE_SIZE", "LLM", "LOG_LEVEL", "SETTINGS_DB", "SERVE_ADDR",
		"CHUNK_MAX_CHARS", "CHUNK_MAX_PARAGRAPHS",
	} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# Components\n")
	for _, k := range []string{"READER", "WRITER", "TAB", "TRANSCRIPT"} {
		b.WriteString(p + "COMPONENTS_" + k + "=\n")
		b.WriteString(p + "OPTIONS_" + k + "_JSON=\n")
	}
	for _, name := range []string{"openai", "gemini"} {
		fmt.Fprintf(&b, "\n# Provider overrides (%s)\n", name)
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			fmt.Fprintf(&b, "%sPROVIDER__%s__%s=\n", p, name, k)
		}
	}
	b.WriteString("\n# Vendor API keys (read by the provider clients directly)\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")
	b.WriteString("RAPIDAPI_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
