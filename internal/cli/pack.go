package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/replyshield/internal/patterns"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage pattern packs",
	Long: `Manage ReplyShield pattern packs.

Pattern packs are YAML files that add tenant-specific phrases to the built-in
rule keys (confabulation verbs, tool-only data, protocol phrases, ...). Packs
live in the packs directory (default ~/.replyshield/packs/) and are appended
to the built-in library at startup.

Examples:
  replyshield pack list                 # List installed packs
  replyshield pack enable acme-retail   # Enable a pack
  replyshield pack disable acme-retail  # Disable a pack
  replyshield pack show acme-retail     # Show pack details
  replyshield pack keys                 # List rule keys a pack may extend`,
}

var packListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed pattern packs",
	RunE:  packList,
}

var packEnableCmd = &cobra.Command{
	Use:   "enable <pack-name>",
	Short: "Enable a disabled pattern pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packEnable,
}

var packDisableCmd = &cobra.Command{
	Use:   "disable <pack-name>",
	Short: "Disable a pattern pack (prefix with underscore)",
	Args:  cobra.ExactArgs(1),
	RunE:  packDisable,
}

var packShowCmd = &cobra.Command{
	Use:   "show <pack-name>",
	Short: "Show details of a pattern pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packShow,
}

var packKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the rule keys packs can extend",
	RunE:  packKeys,
}

func init() {
	packCmd.AddCommand(packListCmd, packEnableCmd, packDisableCmd, packShowCmd, packKeysCmd)
	rootCmd.AddCommand(packCmd)
}

func packsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.PacksDir, 0700); err != nil {
		return "", err
	}
	return cfg.PacksDir, nil
}

func packList(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	_, infos, err := patterns.LoadPacks(dir, patterns.Default())
	if err != nil {
		return fmt.Errorf("failed to load packs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No pattern packs installed.")
		fmt.Fprintf(out, "\nTo install packs, copy YAML files to: %s\n", dir)
		return nil
	}

	s := newStyles(out)
	fmt.Fprintln(out, s.section("Installed Pattern Packs"))
	for _, info := range infos {
		status := s.pass.Render("✓")
		switch {
		case info.Error != "":
			status = s.block.Render("!")
		case !info.Enabled:
			status = s.dim.Render("✗")
		}
		fmt.Fprintf(out, "  %s  %-25s %s\n", status, info.Name, info.Description)
		if info.Version != "" {
			fmt.Fprintf(out, "       v%s by %s  (%d patterns)\n", info.Version, info.Author, info.PatternCount)
		}
		if info.Error != "" {
			fmt.Fprintf(out, "       %s\n", s.block.Render(info.Error))
		}
	}
	fmt.Fprintln(out, s.rule.Render(strings.Repeat("─", s.width)))
	fmt.Fprintf(out, "\nPacks directory: %s\n", dir)
	return nil
}

// packPaths returns the enabled and disabled file paths for name.
func packPaths(dir, name string) (enabled, disabled string) {
	return filepath.Join(dir, name+".yaml"), filepath.Join(dir, "_"+name+".yaml")
}

func packEnable(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	enabledPath, disabledPath := packPaths(dir, name)
	out := cmd.OutOrStdout()

	if _, err := os.Stat(disabledPath); err == nil {
		if err := os.Rename(disabledPath, enabledPath); err != nil {
			return fmt.Errorf("failed to enable pack: %w", err)
		}
		fmt.Fprintf(out, "Pack '%s' enabled.\n", name)
		return nil
	}
	if _, err := os.Stat(enabledPath); err == nil {
		fmt.Fprintf(out, "Pack '%s' is already enabled.\n", name)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packDisable(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	enabledPath, disabledPath := packPaths(dir, name)
	out := cmd.OutOrStdout()

	if _, err := os.Stat(enabledPath); err == nil {
		if err := os.Rename(enabledPath, disabledPath); err != nil {
			return fmt.Errorf("failed to disable pack: %w", err)
		}
		fmt.Fprintf(out, "Pack '%s' disabled.\n", name)
		return nil
	}
	if _, err := os.Stat(disabledPath); err == nil {
		fmt.Fprintf(out, "Pack '%s' is already disabled.\n", name)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	path, disabled := packPaths(dir, name)
	if _, err := os.Stat(path); err != nil {
		path = disabled
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pack '%s' not found in %s", name, dir)
		}
	}

	pack, err := patterns.ReadPack(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := newStyles(out)
	fmt.Fprintln(out, s.section(orDash(pack.Name)))
	fmt.Fprintln(out, s.row("Description", orDash(pack.Description)))
	fmt.Fprintln(out, s.row("Version", orDash(pack.PackVersion)))
	fmt.Fprintln(out, s.row("Author", orDash(pack.Author)))
	fmt.Fprintln(out, s.row("Path", path))

	keys := make([]string, 0, len(pack.Patterns))
	for k := range pack.Patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s\n", s.title.Render(k))
		langs := make([]string, 0, len(pack.Patterns[k]))
		for lang := range pack.Patterns[k] {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			for _, p := range pack.Patterns[k][lang] {
				fmt.Fprintf(out, "    %s %s\n", s.dim.Render("["+lang+"]"), p)
			}
		}
	}
	if len(pack.ToolNames) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.row("Tool names", strings.Join(pack.ToolNames, ", ")))
	}
	return nil
}

func packKeys(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, k := range patterns.Default().Keys() {
		fmt.Fprintln(out, k)
	}
	return nil
}
