package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logPath    string
)

var rootCmd = &cobra.Command{
	Use:   "replyshield",
	Short: "ReplyShield - outbound guardrails for customer-service AI replies",
	Long: `ReplyShield sits between a customer-service model and the customer.
Every reply is checked before it is delivered: raw data dumps, unmasked
personal data, claims no tool backed, someone else's records and leaked
internal instructions are blocked, masked, corrected or replaced by a
single clarification question.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.replyshield/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to security audit log (default: ~/.replyshield/audit.jsonl)")
}

func Execute() error {
	return rootCmd.Execute()
}
