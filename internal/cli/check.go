package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gzhole/replyshield/internal/guardrail"
)

var (
	checkFile     string
	checkText     string
	checkLanguage string
	checkChannel  string
	checkJSON     bool
	checkStrict   bool
)

// errBlocked is returned with --strict when the reply would not be delivered
// unchanged.
var errBlocked = errors.New("reply blocked")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check one model reply",
	Long: `Run one reply through the guardrail pipeline. The turn context is read as
JSON from --file or stdin; --text alone checks a bare reply with an empty
context.

Examples:
  replyshield check --text "Siparişiniz teslim edildi."
  replyshield check --file turn.json --json
  cat turn.json | replyshield check --strict`,
	RunE: checkCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkFile, "file", "", "Turn context JSON file")
	checkCmd.Flags().StringVar(&checkText, "text", "", "Reply text (overrides responseText)")
	checkCmd.Flags().StringVar(&checkLanguage, "lang", "", "Reply language (tr, en)")
	checkCmd.Flags().StringVar(&checkChannel, "channel", "", "Channel (chat, phone, email)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the result as JSON")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Exit non-zero unless the action is PASS or SANITIZE")
	rootCmd.AddCommand(checkCmd)
}

func checkCommand(cmd *cobra.Command, args []string) error {
	gctx, err := readTurn(cmd.InOrStdin())
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd.Context(), runtimeOptions{logOut: cmd.ErrOrStderr(), pretty: true, withAudit: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.gateway.Check(cmd.Context(), gctx)

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, newStyles(out), res)
	}

	if checkStrict && res.Action != guardrail.ActionPass && res.Action != guardrail.ActionSanitize {
		return fmt.Errorf("%w: %s", errBlocked, res.Action)
	}
	return nil
}

// readTurn builds the turn context from --file, piped stdin and flags.
func readTurn(stdin io.Reader) (guardrail.Context, error) {
	var gctx guardrail.Context

	var data []byte
	var err error
	switch {
	case checkFile != "":
		data, err = os.ReadFile(checkFile)
	case checkText != "":
	case !isTerminal(stdin):
		data, err = io.ReadAll(stdin)
	default:
		return gctx, errors.New("no input: pipe a turn context JSON, or use --file or --text")
	}
	if err != nil {
		return gctx, fmt.Errorf("read turn context: %w", err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &gctx); err != nil {
			return gctx, fmt.Errorf("parse turn context: %w", err)
		}
	}

	if checkText != "" {
		gctx.ResponseText = checkText
	}
	if checkLanguage != "" {
		gctx.Language = checkLanguage
	}
	if checkChannel != "" {
		gctx.Channel = checkChannel
	}
	if gctx.TenantID == "" {
		gctx.TenantID = "cli"
	}
	return gctx, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printResult(w io.Writer, s styles, res guardrail.Result) {
	var b strings.Builder
	fmt.Fprintln(&b, s.row("Action", s.action(res.Action)))
	if res.BlockReason != "" {
		reason := string(res.BlockReason)
		if res.SubReason != "" {
			reason += " / " + res.SubReason
		}
		fmt.Fprintln(&b, s.row("Reason", reason))
		fmt.Fprintln(&b, s.row("Class", string(guardrail.ClassOf(res.BlockReason))))
	}
	if len(res.MissingFields) > 0 {
		fmt.Fprintln(&b, s.row("Missing", strings.Join(res.MissingFields, ", ")))
	}
	if res.SessionLocked {
		fmt.Fprintln(&b, s.row("Session", s.block.Render("LOCKED")))
	}
	fmt.Fprintln(&b, s.row("Stages", fmt.Sprintf("%d run", len(res.GuardrailsApplied))))
	fmt.Fprintln(&b, s.row("Turn", s.dim.Render(res.TurnID)))
	fmt.Fprintln(w, s.box(strings.TrimRight(b.String(), "\n")))

	fmt.Fprintln(w)
	fmt.Fprintln(w, s.section("Reply"))
	fmt.Fprintf(w, "  %s\n", res.FinalResponse)

	if len(res.Violations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.section("Violations"))
		for _, v := range res.Violations {
			label := v.Type
			if v.Category != "" {
				label += " (" + v.Category + ")"
			}
			if v.LogOnly {
				label += s.dim.Render(" [log only]")
			}
			fmt.Fprintf(w, "  • %s\n", label)
			if v.Field != "" {
				fmt.Fprintf(w, "      %s: claimed %q, expected %q\n", v.Field, v.Claimed, v.Expected)
			} else if v.Evidence != "" {
				fmt.Fprintf(w, "      %s\n", s.dim.Render(v.Evidence))
			}
		}
	}

	if res.CorrectionConstraint != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.section("Correction"))
		fmt.Fprintf(w, "  %s\n", res.CorrectionConstraint)
	}

	if len(res.Telemetry) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.section("Telemetry"))
		stages := make([]string, 0, len(res.Telemetry))
		for name := range res.Telemetry {
			stages = append(stages, name)
		}
		sort.Strings(stages)
		for _, name := range stages {
			data, _ := json.Marshal(res.Telemetry[name])
			fmt.Fprintf(w, "  %s %s\n", s.dim.Render(name+":"), data)
		}
	}
}
