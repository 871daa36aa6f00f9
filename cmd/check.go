package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nnfoam/coupler"
	"nnfoam/model"
)

// CheckCmd 只检查字典和算例，不构建推理引擎
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the coupling dictionary and the case fields without building an engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readRunOptions(cmd)
		if err != nil {
			return err
		}
		return checkCase(opts)
	},
}

func init() {
	rootCmd.AddCommand(CheckCmd)
	CheckCmd.Flags().StringP("case", "c", ".", "case directory")
	CheckCmd.Flags().String("dict", model.DefaultDictPath, "dictionary path relative to the case directory")
	CheckCmd.Flags().Bool("restart", false, "check the latest time directory instead of start_time")
}

func checkCase(opts *runOptions) error {
	cfg, store, _, err := prepareCase(opts)
	if err != nil {
		return err
	}
	// 不调用推理，只检查输入场能否组装
	if _, err := coupler.New(cfg, store, nil); err != nil {
		return err
	}
	modelPath := resolve(opts.caseDir, cfg.Engine.ModelPath)
	if _, err := os.Stat(modelPath); err != nil {
		log.WithField("model", modelPath).Warn("模型文件不存在，只能以 --dry-run 运行")
	}
	log.WithFields(log.Fields{
		"cells":    store.Cells(),
		"timeName": store.Time(),
		"inputs":   cfg.InputFields(),
		"outputs":  cfg.OutputFields(),
	}).Info("算例检查通过")
	fmt.Fprintf(os.Stdout, "ok: %d cells, %d inputs, %d outputs\n", store.Cells(), len(cfg.Inputs), len(cfg.Outputs))
	return nil
}
