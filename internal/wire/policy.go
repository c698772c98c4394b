// ABOUTME: Close-code to recovery-strategy mapping for the connection manager.
// ABOUTME: Ships built-in defaults and accepts per-network overrides from a TOML file.

package wire

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Strategy names what the manager does after a session closes with a
// given code.
type Strategy string

const (
	// StrategyBackoff schedules a reconnect after the backoff delay.
	StrategyBackoff Strategy = "backoff"
	// StrategyImmediate reconnects with no delay and no attempt bump.
	StrategyImmediate Strategy = "immediate"
	// StrategyLogout wipes credentials and stops reconnecting.
	StrategyLogout Strategy = "logout"
)

// ReconnectPolicy maps close codes to recovery strategies. Codes
// absent from the table fall back to StrategyBackoff.
type ReconnectPolicy map[CloseCode]Strategy

// DefaultReconnectPolicy returns the built-in mapping.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		CloseRestartRequired: StrategyImmediate,
		CloseTransient:       StrategyBackoff,
		CloseUnknown:         StrategyBackoff,
		CloseIntentional:     StrategyBackoff,
		CloseLoggedOut:       StrategyLogout,
	}
}

// Resolve returns the strategy for code, defaulting to backoff so an
// unmapped code can never strand the connection.
func (p ReconnectPolicy) Resolve(code CloseCode) Strategy {
	if s, ok := p[code]; ok {
		return s
	}
	return StrategyBackoff
}

type policyFile struct {
	Reconnect map[string]string `toml:"reconnect"`
}

// LoadReconnectPolicy reads a TOML policy file and overlays it on the
// defaults. The file holds a single [reconnect] table of
// close-code = strategy pairs; codes not mentioned keep their default.
//
//	[reconnect]
//	restart_required = "immediate"
//	transient = "backoff"
func LoadReconnectPolicy(path string) (ReconnectPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reconnect policy: %w", err)
	}

	var pf policyFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse reconnect policy: %w", err)
	}

	policy := DefaultReconnectPolicy()
	for code, raw := range pf.Reconnect {
		strategy := Strategy(raw)
		switch strategy {
		case StrategyBackoff, StrategyImmediate, StrategyLogout:
			policy[CloseCode(code)] = strategy
		default:
			return nil, fmt.Errorf("reconnect policy: unknown strategy %q for code %q", raw, code)
		}
	}
	return policy, nil
}
