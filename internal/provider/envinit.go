package provider

import (
	"github.com/ndc-agent/agent/internal/envcfg"
	"github.com/ndc-agent/agent/pkg/types"
)

// knownProviderEnvNames lists the provider ids InitializeProviders knows how
// to construct; ConfigFromEnv only looks for NDC_<PROVIDER>_* variables for
// these, matching spec.md §6's "NDC_<PROVIDER>_API_KEY, _MODEL, _GROUP_ID,
// _URL" table.
var knownProviderEnvNames = []string{"anthropic", "openai", "ark"}

// ConfigFromEnv builds a minimal types.Config whose Provider map is
// populated from NDC_<PROVIDER>_API_KEY / NDC_<PROVIDER>_MODEL /
// NDC_<PROVIDER>_URL, one entry per provider in knownProviderEnvNames that
// has an API key set. It is the env-var-only substitute for the
// (out-of-scope) configuration-file loader: InitializeProviders still
// falls back to bare ANTHROPIC_API_KEY/OPENAI_API_KEY for providers this
// leaves unconfigured.
//
// NDC_<PROVIDER>_GROUP_ID is not read: ProviderOptions has no field for it,
// and no provider constructor takes a group id (ArkConfig has no
// group/region field).
func ConfigFromEnv() *types.Config {
	cfg := &types.Config{Provider: map[string]types.ProviderConfig{}}

	for _, name := range knownProviderEnvNames {
		prefix := "NDC_" + upperSnake(name) + "_"
		apiKey := envcfg.String("", prefix+"API_KEY")
		if apiKey == "" {
			continue
		}
		cfg.Provider[name] = types.ProviderConfig{
			Model: envcfg.String("", prefix+"MODEL"),
			Options: &types.ProviderOptions{
				APIKey:  apiKey,
				BaseURL: envcfg.String("", prefix+"URL"),
			},
		}
	}

	return cfg
}

func upperSnake(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
