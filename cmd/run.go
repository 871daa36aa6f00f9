package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nnfoam/config"
	"nnfoam/coupler"
	"nnfoam/emitter"
	"nnfoam/engine"
	"nnfoam/field"
	"nnfoam/model"
	"nnfoam/server"
)

// RunCmd 构建引擎并运行时间循环
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the inference engine and run the coupled time loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readRunOptions(cmd)
		if err != nil {
			return err
		}
		opts.policy, _ = cmd.Flags().GetString("policy")
		opts.monitor, _ = cmd.Flags().GetString("monitor")
		opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
		return runCase(cmd.Context(), opts)
	},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("case", "c", ".", "case directory")
	RunCmd.Flags().String("dict", model.DefaultDictPath, "dictionary path relative to the case directory")
	RunCmd.Flags().String("policy", "", "override failure_policy: abort or stale")
	RunCmd.Flags().String("monitor", "", "override the websocket monitor listen address")
	RunCmd.Flags().Bool("dry-run", false, "use a backend that returns zeros instead of loading the model")
	RunCmd.Flags().Bool("restart", false, "start from the latest time directory")
}

type runOptions struct {
	caseDir string
	dict    string
	restart bool
	policy  string
	monitor string
	dryRun  bool
}

func readRunOptions(cmd *cobra.Command) (*runOptions, error) {
	opts := &runOptions{}
	opts.caseDir, _ = cmd.Flags().GetString("case")
	opts.dict, _ = cmd.Flags().GetString("dict")
	opts.restart, _ = cmd.Flags().GetBool("restart")
	if opts.caseDir == "" {
		return nil, fmt.Errorf("--case must not be empty")
	}
	return opts, nil
}

func resolve(caseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(caseDir, path)
}

// prepareCase 读取字典，打开算例并声明场，返回起始时间
func prepareCase(opts *runOptions) (*model.CouplingCfg, *field.CaseStore, float64, error) {
	cfg, err := config.Load(resolve(opts.caseDir, opts.dict))
	if err != nil {
		return nil, nil, 0, err
	}
	if opts.policy != "" {
		cfg.Policy = model.FailurePolicy(opts.policy)
	}
	if opts.monitor != "" {
		cfg.Monitor.Listen = opts.monitor
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, 0, err
	}

	start := cfg.Time.StartTime
	if opts.restart {
		latest, err := field.LatestTime(opts.caseDir, cfg.InputFields()...)
		if err != nil {
			return nil, nil, 0, err
		}
		if start, err = strconv.ParseFloat(latest, 64); err != nil {
			return nil, nil, 0, fmt.Errorf("restart time %s: %w", latest, err)
		}
		log.WithField("timeName", latest).Info("从最新时间目录重启")
	}

	store, err := field.OpenCase(opts.caseDir, coupler.TimeName(start))
	if err != nil {
		return nil, nil, 0, err
	}
	for _, name := range cfg.InputFields() {
		if err := store.Declare(name, field.MustRead); err != nil {
			return nil, nil, 0, err
		}
	}
	for _, name := range cfg.OutputFields() {
		if err := store.Declare(name, field.NoRead); err != nil {
			return nil, nil, 0, err
		}
	}
	return cfg, store, start, nil
}

func newEngine(cfg *model.CouplingCfg, caseDir string, dryRun bool) *engine.Manager {
	backend := engine.NewOnnx()
	if dryRun {
		backend = engine.NewDry()
	}
	spec := engine.Spec{
		ModelPath:      resolve(caseDir, cfg.Engine.ModelPath),
		InputNames:     []string{cfg.Engine.InputTensor},
		OutputNames:    []string{cfg.Engine.OutputTensor},
		MaxBatchSize:   cfg.Engine.MaxBatchSize,
		InputChannels:  len(cfg.Inputs),
		OutputChannels: len(cfg.Outputs),
		SharedLibrary:  cfg.Engine.SharedLibrary,
	}
	return engine.NewManager(backend, spec, cfg.Engine.InferTimeout)
}

func runCase(ctx context.Context, opts *runOptions) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, store, start, err := prepareCase(opts)
	if err != nil {
		return err
	}

	mgr := newEngine(cfg, opts.caseDir, opts.dryRun)
	if err := mgr.Build(); err != nil {
		return fmt.Errorf("build inference engine: %w", err)
	}
	defer func() {
		if tdErr := mgr.Teardown(); tdErr != nil && err == nil {
			err = tdErr
		}
	}()

	c, err := coupler.New(cfg, store, mgr)
	if err != nil {
		return err
	}
	clock, err := coupler.NewClock(start, cfg.Time.EndTime, cfg.Time.DeltaT, cfg.Time.WriteInterval)
	if err != nil {
		return err
	}
	hub := coupler.NewCalcHub(cfg.Monitor.History)

	// 中断信号按停止处理，当前时间步会被写出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn("收到中断信号，停止计算")
			hub.StopSignal()
		case <-hub.Stop:
		}
	}()

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	var sinks []coupler.Sink
	var monitor *server.Hub
	if cfg.Monitor.Listen != "" {
		monitor = server.NewHub(cfg.Monitor.History, hub.StopSignal)
		upgrader := websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		}
		s := server.NewServer(cfg.Monitor.Listen, upgrader, monitor)
		go func() {
			if err := s.Serve(serveCtx); err != nil {
				log.WithError(err).Error("监控服务退出")
			}
		}()
		sinks = append(sinks, monitor)
	}
	if cfg.Mqtt.Broker != "" {
		e := emitter.NewMQTTEmitter(cfg.Mqtt, c.RunID())
		if err := e.Connect(); err != nil {
			log.WithError(err).Warn("mqtt 不可用，不发布推理报告")
		} else {
			defer e.Disconnect()
			sinks = append(sinks, e)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Forward(sinks...)
	}()

	runner := &coupler.Runner{
		Coupler:   c,
		Clock:     clock,
		Corrector: coupler.NoCorrection,
		Persister: store,
		Hub:       hub,
	}
	err = runner.Run(ctx)
	hub.StopSignal()
	wg.Wait()

	if monitor != nil {
		status := "completed"
		if err != nil {
			status = err.Error()
		}
		monitor.Finish(status)
	}
	return err
}
