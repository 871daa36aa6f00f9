package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nnfoam/config"
	"nnfoam/model"
)

// InitCmd 写出预置的耦合字典
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter coupling dictionary for a solver preset",
	RunE: func(cmd *cobra.Command, args []string) error {
		caseDir, _ := cmd.Flags().GetString("case")
		dict, _ := cmd.Flags().GetString("dict")
		preset, _ := cmd.Flags().GetString("preset")
		force, _ := cmd.Flags().GetBool("force")
		return initCase(caseDir, dict, preset, force)
	},
}

func init() {
	rootCmd.AddCommand(InitCmd)
	InitCmd.Flags().StringP("case", "c", ".", "case directory")
	InitCmd.Flags().String("dict", model.DefaultDictPath, "dictionary path relative to the case directory")
	InitCmd.Flags().StringP("preset", "p", "inferFoam", "solver preset: inferFoam or fgmFoam")
	InitCmd.Flags().Bool("force", false, "overwrite an existing dictionary")
}

func initCase(caseDir, dict, preset string, force bool) error {
	cfg, err := config.Preset(preset)
	if err != nil {
		return err
	}
	path := filepath.Join(caseDir, dict)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := config.Write(cfg, path); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"path":   path,
		"preset": preset,
	}).Info("已写入耦合字典")
	return nil
}
