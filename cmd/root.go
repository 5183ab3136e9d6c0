package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trayvision/trayvision-go/cmd/catalog"
	"github.com/trayvision/trayvision-go/cmd/cctv"
	"github.com/trayvision/trayvision-go/cmd/server"
	"github.com/trayvision/trayvision-go/cmd/worker"
	"github.com/trayvision/trayvision-go/internal/conf"
)

// RootCommand creates and returns the root command with all subcommands
// attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trayvision",
		Short: "TrayVision checkout recognition CLI",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		server.Command(settings),
		worker.Command(settings),
		cctv.Command(settings),
		catalog.Command(settings),
	)

	return rootCmd
}

// setupFlags configures the global flags shared by every subcommand.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the SQLite database")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
