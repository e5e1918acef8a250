package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/replyshield/internal/logger"
)

var (
	logFilterAction  string
	logFilterReason  string
	logFilterSession string
	logLast          int
	logSummary       bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the security audit log",
	Long: `View the ReplyShield security audit trail with filtering and summary options.

Examples:
  replyshield log                          # Show all entries
  replyshield log --last 20                # Show last 20 entries
  replyshield log --action BLOCK           # Show only blocked replies
  replyshield log --reason FIREWALL_BLOCK  # Filter by block reason
  replyshield log --session s-123          # One conversation
  replyshield log --summary                # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterAction, "action", "", "Filter by action (BLOCK, NEED_MIN_INFO_FOR_TOOL)")
	logCmd.Flags().StringVar(&logFilterReason, "reason", "", "Filter by block reason")
	logCmd.Flags().StringVar(&logFilterSession, "session", "", "Filter by session ID")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events, err := logger.ReadFile(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	s := newStyles(out)
	if logSummary {
		printSummary(out, s, events)
		return nil
	}

	filtered := filterEvents(events, logFilterAction, logFilterReason, logFilterSession)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}
	printEvents(out, s, filtered)
	return nil
}

func filterEvents(events []logger.SecurityEvent, action, reason, sessionID string) []logger.SecurityEvent {
	if action == "" && reason == "" && sessionID == "" {
		return events
	}
	var filtered []logger.SecurityEvent
	for _, e := range events {
		if action != "" && !strings.EqualFold(e.Action, action) {
			continue
		}
		if reason != "" && !strings.EqualFold(e.Reason, reason) {
			continue
		}
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, s styles, events []logger.SecurityEvent) {
	for _, e := range events {
		reason := e.Reason
		if e.SubReason != "" {
			reason += " / " + e.SubReason
		}
		lock := ""
		if e.SessionLocked {
			lock = " " + s.block.Render("[LOCKED]")
		}
		fmt.Fprintf(w, "%s %s %s%s\n", s.dim.Render(formatTimestamp(e.Timestamp)), s.actionText(e.Action), reason, lock)
		fmt.Fprintf(w, "     Session: %s  Tenant: %s  Turn: %s\n", orDash(e.SessionID), orDash(e.TenantID), e.TurnID)
		for _, v := range e.Violations {
			label := v.Type
			if v.Category != "" {
				label += " (" + v.Category + ")"
			}
			fmt.Fprintf(w, "     Violation: %s\n", label)
		}
		if e.LockReason != "" {
			fmt.Fprintf(w, "     Lock: %s\n", e.LockReason)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", e.Error)
		}
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, s styles, events []logger.SecurityEvent) {
	actions := map[string]int{}
	reasons := map[string]int{}
	sessions := map[string]bool{}
	locks, errs := 0, 0
	for _, e := range events {
		actions[e.Action]++
		if e.Reason != "" {
			reasons[e.Reason]++
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = true
		}
		if e.SessionLocked {
			locks++
		}
		if e.Error != "" {
			errs++
		}
	}

	fmt.Fprintln(w, s.header("ReplyShield Audit Summary"))
	fmt.Fprintln(w, s.row("Total events", fmt.Sprint(len(events))))
	fmt.Fprintln(w, s.row("Sessions", fmt.Sprint(len(sessions))))
	fmt.Fprintln(w, s.row("Session locks", fmt.Sprint(locks)))
	fmt.Fprintln(w, s.row("Errors", fmt.Sprint(errs)))
	fmt.Fprintln(w, s.row("First event", formatTimestamp(events[0].Timestamp)))
	fmt.Fprintln(w, s.row("Last event", formatTimestamp(events[len(events)-1].Timestamp)))

	fmt.Fprintln(w)
	fmt.Fprintln(w, s.section("Actions"))
	for _, k := range sortedByCount(actions) {
		fmt.Fprintln(w, s.row(k, fmt.Sprint(actions[k])))
	}
	if len(reasons) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.section("Reasons"))
		for _, k := range sortedByCount(reasons) {
			fmt.Fprintf(w, "  %-32s %d\n", k, reasons[k])
		}
	}
	fmt.Fprintln(w)
}

func sortedByCount(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
