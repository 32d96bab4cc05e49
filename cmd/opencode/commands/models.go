package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ndc-agent/agent/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the NDC_<PROVIDER>_* configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := provider.ConfigFromEnv()
		reg, err := provider.InitializeProviders(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("initialize providers: %w", err)
		}

		models := reg.AllModels()
		if len(models) == 0 {
			fmt.Println("no providers configured; set NDC_ANTHROPIC_API_KEY, NDC_OPENAI_API_KEY, or NDC_ARK_API_KEY")
			return nil
		}
		for _, m := range models {
			fmt.Printf("%s/%s\n", m.ProviderID, m.ID)
		}
		return nil
	},
}
