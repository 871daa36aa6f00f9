// Package cmd 命令行入口
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nnfoam",
	Short: "Couples a CFD time loop to a neural-network inference engine",
	Long: `nnfoam reads cell fields from an OpenFOAM-style case directory, runs one
neural-network inference per time step and writes the decoded output fields
back into the case.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "write logs as JSON")
}

// Execute 运行命令，返回的错误已经记录到日志
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Error("nnfoam 退出")
	}
	return err
}

func setupLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
