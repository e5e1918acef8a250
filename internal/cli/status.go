package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/replyshield/internal/claimgate"
	"github.com/gzhole/replyshield/internal/config"
	"github.com/gzhole/replyshield/internal/flags"
	"github.com/gzhole/replyshield/internal/patterns"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ReplyShield status: config, session store, packs, audit log, flags",
	Long: `Show the resolved configuration: where config, packs, message overrides and
the audit log live, which session backend is used and how the feature flags
are set.

  replyshield status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := newStyles(out)

	fmt.Fprintln(out, s.header("ReplyShield Status"))
	fmt.Fprintln(out)

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Fprintln(out, s.row("Binary", fmt.Sprintf("%s (%s)", binPath, Version)))
	fileRow(out, s, "Config", cfg.ConfigPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, s.section("Session Store"))
	backend := cfg.Session.Backend
	if backend == config.BackendRedis {
		backend += " " + s.dim.Render(cfg.Session.RedisAddr)
	} else {
		backend += " " + s.dim.Render(fmt.Sprintf("capacity %d", cfg.Session.Capacity))
	}
	fmt.Fprintln(out, s.row("Backend", backend))
	fmt.Fprintln(out, s.row("Enumeration", fmt.Sprintf("%d attempts in %s, lock %s",
		cfg.Session.Threshold, cfg.Session.Window, cfg.Session.LockDuration)))
	fmt.Fprintln(out, s.row("Corrections", fmt.Sprintf("%d attempt(s)", cfg.Corrections.MaxAttempts)))
	fmt.Fprintln(out, s.row("Tool intents", intentList(s, claimgate.NewToolRequiredGate(cfg.Intents).Intents())))
	fmt.Fprintln(out)

	fmt.Fprintln(out, s.section("Patterns & Messages"))
	_, packs, err := patterns.LoadPacks(cfg.PacksDir, patterns.Default())
	if err != nil {
		fmt.Fprintln(out, s.row("Packs", s.block.Render(err.Error())))
	} else {
		enabled, broken := 0, 0
		for _, p := range packs {
			if p.Error != "" {
				broken++
			} else if p.Enabled {
				enabled++
			}
		}
		summary := fmt.Sprintf("%d enabled of %d", enabled, len(packs))
		if broken > 0 {
			summary += " " + s.block.Render(fmt.Sprintf("(%d failed)", broken))
		}
		fmt.Fprintln(out, s.row("Packs", summary+" "+s.dim.Render(cfg.PacksDir)))
	}
	fileRow(out, s, "Messages", cfg.MessagesPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, s.section("Audit"))
	fileRow(out, s, "Audit log", cfg.LogPath)
	if cfg.Postgres.DSN != "" {
		fmt.Fprintln(out, s.row("Postgres", s.pass.Render("enabled")))
	} else {
		fmt.Fprintln(out, s.row("Postgres", s.dim.Render("disabled")))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, s.section("Feature Flags"))
	fl, err := cfg.FeatureFlags()
	if err != nil {
		fmt.Fprintln(out, s.row("Flags", s.block.Render(err.Error())))
		return nil
	}
	printFlags(out, s, fl)
	fmt.Fprintln(out)
	return nil
}

func printFlags(w io.Writer, s styles, fl flags.Flags) {
	m := fl.AsMap()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-32s %s\n", name, flagValue(s, fl, name, m[name]))
	}
}

func intentList(s styles, intents []string) string {
	if len(intents) == 0 {
		return s.dim.Render("(none)")
	}
	return strings.Join(intents, ", ")
}

func fileRow(w io.Writer, s styles, label, path string) {
	state := s.dim.Render("(not found, using defaults)")
	if _, err := os.Stat(path); err == nil {
		state = s.pass.Render("✓")
	}
	fmt.Fprintln(w, s.row(label, path+" "+state))
}

func flagValue(s styles, fl flags.Flags, name string, v any) string {
	switch t := v.(type) {
	case bool:
		if fl.IsEnabled(name) {
			return s.warn.Render("on")
		}
		return s.dim.Render("off")
	case []string:
		if len(t) == 0 {
			return s.dim.Render("(all tenants)")
		}
		return strings.Join(t, ", ")
	}
	return fmt.Sprint(v)
}
