package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/replyshield/internal/gateway"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/logger"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Self-test: verify the pipeline stops known-bad replies",
	Long: `Run a quick diagnostic that sends a set of known-bad and known-good
replies through the configured guardrail pipeline. Nothing is delivered and
no session state is touched.

  replyshield scan`,
	RunE: scanCommand,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

type scanCase struct {
	group      string
	label      string
	turn       guardrail.Context
	wantAction guardrail.Action
	wantReason guardrail.Reason
}

type scanOutcome struct {
	scanCase
	got guardrail.Result
	ok  bool
}

func scanTurn(text string) guardrail.Context {
	return guardrail.Context{SessionID: "self-test", TenantID: "self-test", Language: "tr", Channel: "chat", ResponseText: text}
}

func withTools(gctx guardrail.Context, outputs ...guardrail.ToolOutput) guardrail.Context {
	gctx.ToolOutputs = outputs
	return gctx
}

func selfTestCases() []scanCase {
	const jsonDump = `{"order_id": "A1", "status": "ok", "x":1} {"order_id": "A1", "status": "ok", "x":1} {"order_id": "A1", "status": "ok", "x":1}`

	verifiedPhone := scanTurn("Telefon numaranız: 05551234567")
	verifiedPhone.Verification = guardrail.VerificationVerified

	customerLookup := scanTurn("Kayıtlı adresiniz güncel görünüyor.")
	customerLookup.ToolsCalled = []guardrail.ToolCall{{Name: "customer_data_lookup", Success: true}}

	mismatch := withTools(scanTurn("Bilgileriniz güncellendi."), guardrail.ToolOutput{
		Name:    "customer_data_lookup",
		Success: true,
		Data:    map[string]any{"owner": map[string]any{"customerId": "C-200"}},
	})
	mismatch.Verification = guardrail.VerificationVerified
	mismatch.VerifiedIdentity = &guardrail.Identity{CustomerID: "C-100"}

	shipped := guardrail.ToolOutput{Name: "order_lookup", Outcome: guardrail.OutcomeOK, Success: true,
		Data: map[string]any{"order": map[string]any{"status": "shipped"}}}
	tracked := guardrail.ToolOutput{Name: "order_lookup", Outcome: guardrail.OutcomeOK, Success: true,
		Data: map[string]any{"order": map[string]any{"trackingNumber": "ABC123"}}}
	notFound := guardrail.ToolOutput{Name: "order_lookup", Outcome: guardrail.OutcomeNotFound}

	return []scanCase{
		{"Leak prevention", "Raw JSON dump", scanTurn(jsonDump), guardrail.ActionBlock, guardrail.ReasonFirewallBlock},
		{"Leak prevention", "Unverified phone", scanTurn("Telefon numaranız: 05551234567"), guardrail.ActionNeedMinInfoForTool, guardrail.ReasonLeakFilter},
		{"Leak prevention", "Verified phone is masked", verifiedPhone, guardrail.ActionSanitize, ""},
		{"Leak prevention", "Customer data without tool", scanTurn("Kayıtlı adresiniz güncel görünüyor."), guardrail.ActionBlock, guardrail.ReasonToolOnlyDataLeak},
		{"Leak prevention", "Customer data with tool", customerLookup, guardrail.ActionPass, ""},
		{"Leak prevention", "Record owned by someone else", mismatch, guardrail.ActionBlock, guardrail.ReasonIdentityMismatch},

		{"Grounding", "Status contradicts tool", withTools(scanTurn("Siparişiniz teslim edildi."), shipped), guardrail.ActionBlock, guardrail.ReasonFieldGrounding},
		{"Grounding", "Status matches tool", withTools(scanTurn("Siparişiniz kargoya verildi."), shipped), guardrail.ActionPass, ""},
		{"Grounding", "Fabricated tracking number", withTools(scanTurn("Takip no: XYZ999"), tracked), guardrail.ActionBlock, guardrail.ReasonFieldGrounding},
		{"Grounding", "Unbacked delivery claim", scanTurn("Paketiniz teslim edildi, komşunuza bırakıldı."), guardrail.ActionBlock, guardrail.ReasonConfabulation},
		{"Grounding", "Hedged claim", scanTurn("Muhtemelen paketiniz teslim edildi."), guardrail.ActionPass, ""},
		{"Grounding", "Acknowledged NOT_FOUND", withTools(scanTurn("Sipariş numaranız bulunamadı."), notFound), guardrail.ActionPass, ""},

		{"Baseline", "Clean reply", scanTurn("Başka bir konuda yardımcı olabilir miyim?"), guardrail.ActionPass, ""},
	}
}

// runSelfTest runs every self-test case through p.
func runSelfTest(ctx context.Context, p *guardrail.Pipeline) []scanOutcome {
	cases := selfTestCases()
	out := make([]scanOutcome, 0, len(cases))
	for _, c := range cases {
		res := p.Run(ctx, c.turn)
		ok := res.Action == c.wantAction && (c.wantReason == "" || res.BlockReason == c.wantReason)
		out = append(out, scanOutcome{scanCase: c, got: res, ok: ok})
	}
	return out
}

func scanCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	components, packs, err := loadComponents(cfg, logger.NewApp(cfg.LogLevel, true, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := newStyles(out)
	fmt.Fprintln(out, s.header("ReplyShield Self-Test"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n\n", s.dim.Render(fmt.Sprintf("%d pattern pack(s) from %s", len(packs), cfg.PacksDir)))

	outcomes := runSelfTest(cmd.Context(), gateway.BuildPipeline(components))
	passed := printOutcomes(out, s, outcomes)

	total := len(outcomes)
	fmt.Fprintln(out, s.rule.Render(strings.Repeat("═", s.width)))
	if passed == total {
		fmt.Fprintf(out, "  %s\n", s.pass.Render(fmt.Sprintf("All %d tests passed", total)))
		return nil
	}
	fmt.Fprintf(out, "  %s\n", s.warn.Render(fmt.Sprintf("%d/%d tests passed, %d failed", passed, total, total-passed)))
	return fmt.Errorf("self-test failed: %d case(s)", total-passed)
}

func printOutcomes(w io.Writer, s styles, outcomes []scanOutcome) int {
	passed := 0
	group := ""
	groupPass, groupTotal := 0, 0
	flush := func() {
		if group != "" {
			fmt.Fprintf(w, "\n  %s: %d/%d passed\n\n", group, groupPass, groupTotal)
		}
	}
	for _, o := range outcomes {
		if o.group != group {
			flush()
			group, groupPass, groupTotal = o.group, 0, 0
			fmt.Fprintln(w, s.section(group))
		}
		groupTotal++
		want := string(o.wantAction)
		if o.wantReason != "" {
			want += " " + string(o.wantReason)
		}
		if o.ok {
			passed++
			groupPass++
			fmt.Fprintf(w, "  %s %-30s %s\n", s.pass.Render("✓"), o.label, s.dim.Render(want))
			continue
		}
		got := string(o.got.Action)
		if o.got.BlockReason != "" {
			got += " " + string(o.got.BlockReason)
		}
		fmt.Fprintf(w, "  %s %-30s want %s, got %s\n", s.block.Render("✗"), o.label, want, got)
	}
	flush()
	return passed
}
