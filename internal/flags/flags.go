// Package flags holds the typed kill-switch configuration for the guardrail
// pipeline. Flags arrive as a flat name -> value map (config file, request
// overrides) and are decoded into Flags once per request.
//
// Every kill switch defaults to false, which means the stage enforces.
package flags

import (
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
)

// Protocol guard modes.
const (
	ProtocolModeStrict  = "strict"
	ProtocolModeRewrite = "rewrite"
)

// Flags is the resolved set of feature flags for one pipeline run.
type Flags struct {
	FirewallLogOnly     bool `mapstructure:"firewall_log_only"`
	LeakFilterLogOnly   bool `mapstructure:"leak_filter_log_only"`
	URLAllowlistLogOnly bool `mapstructure:"url_allowlist_log_only"`

	ToolOnlyDataLogOnly    bool `mapstructure:"tool_only_data_log_only"`
	ToolOnlyCallbackBypass bool `mapstructure:"tool_only_callback_bypass"`
	// ToolOnlyHardeningTenants scopes hard enforcement of the tool-only guard
	// to a canary set. Empty means every tenant.
	ToolOnlyHardeningTenants []string `mapstructure:"tool_only_hardening_tenants"`

	InternalProtocolLogOnly bool   `mapstructure:"internal_protocol_log_only"`
	ProtocolMode            string `mapstructure:"protocol_mode"`

	ConfabulationLogOnly      bool `mapstructure:"confabulation_log_only"`
	FieldGroundingMonitorOnly bool `mapstructure:"field_grounding_monitor_only"`
}

// Default returns fail-closed flags.
func Default() Flags {
	return Flags{ProtocolMode: ProtocolModeRewrite}
}

// Decode builds Flags from a flat map, starting from Default. String values
// such as "true" are accepted.
func Decode(raw map[string]any) (Flags, error) {
	f := Default()
	if len(raw) == 0 {
		return f, nil
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: true,
		Metadata:         &md,
	})
	if err != nil {
		return Flags{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Flags{}, fmt.Errorf("invalid feature flags: %w", err)
	}
	if len(md.Unused) > 0 {
		slices.Sort(md.Unused)
		return Flags{}, fmt.Errorf("unknown feature flags: %v", md.Unused)
	}

	switch f.ProtocolMode {
	case "":
		f.ProtocolMode = ProtocolModeRewrite
	case ProtocolModeStrict, ProtocolModeRewrite:
	default:
		return Flags{}, fmt.Errorf("invalid protocol_mode %q", f.ProtocolMode)
	}
	return f, nil
}

// AsMap returns the flags in their flat map form.
func (f Flags) AsMap() map[string]any {
	out := map[string]any{}
	// Decoding a struct into a map only fails for unsupported kinds, which
	// Flags does not contain.
	_ = mapstructure.Decode(f, &out)
	return out
}

// IsEnabled reports whether the named boolean flag is set.
func (f Flags) IsEnabled(name string) bool {
	v, ok := f.AsMap()[name].(bool)
	return ok && v
}

// WithOverrides applies per-request boolean overrides. Names that are not
// known boolean flags are ignored.
func (f Flags) WithOverrides(overrides map[string]bool) Flags {
	if len(overrides) == 0 {
		return f
	}
	m := f.AsMap()
	for name, v := range overrides {
		if _, ok := m[name].(bool); ok {
			m[name] = v
		}
	}
	out, err := Decode(m)
	if err != nil {
		return f
	}
	return out
}

// HardensToolOnly reports whether the tool-only guard enforces for tenantID.
func (f Flags) HardensToolOnly(tenantID string) bool {
	if len(f.ToolOnlyHardeningTenants) == 0 {
		return true
	}
	return slices.Contains(f.ToolOnlyHardeningTenants, tenantID)
}
