package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/chative-experts/pkg/config"
	_ "github.com/tanpawarit/chative-experts/pkg/logger/autoload"
)

var rootCmd = &cobra.Command{
	Use:   "chative",
	Short: "Multi-expert conversational assistant",
	Long: `chative routes each message to scheduling, finance, health and knowledge experts,
then streams one synthesized answer.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if envFile, _ := cmd.Flags().GetString("env"); envFile != "" {
			configx.SetEnvFile(envFile)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "dotenv file to load instead of ./.env")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
