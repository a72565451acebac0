// Command cryocycle runs the daily helium evaporation / condensation cycle of
// a sorption-pumped cryostat and exposes the controller over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/cryocycle/config"
	"github.com/nasa-jpl/cryocycle/cycle"
	"github.com/nasa-jpl/cryocycle/logger"
	"github.com/nasa-jpl/cryocycle/metrics"
	"github.com/nasa-jpl/cryocycle/notify"
	"github.com/nasa-jpl/cryocycle/telemetry"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "cryocycle.yml"

	startNow bool

	// exitCode is the process exit status, the outcome code of a one-off run
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "cryocycle",
	Short: "Automate the daily helium cycle of the cryostat.",
	Long: `cryocycle runs the daily evaporation / condensation cycle of a sorption
pumped cryostat against an SRS CTC100 temperature controller.

The controller, the cycle and the recorded telemetry are exposed over HTTP,
and every outcome is sent to the configured alert sinks.

Configuration is read from cryocycle.yml, a .env file and CRYOCYCLE_
environment variables; see mkconf for a complete file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&ConfigFileName, "config", "c", ConfigFileName, "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the controller and supervise the daily cycle.",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	runCmd.Flags().BoolVar(&startNow, "start", false, "start the cycle immediately")

	rootCmd.AddCommand(
		runCmd,
		&cobra.Command{
			Use:   "evaporate",
			Short: "Run one evaporation now; the exit status is its outcome code.",
			Args:  cobra.NoArgs,
			RunE:  oneShot(cycle.Evaporation),
		},
		&cobra.Command{
			Use:   "condense",
			Short: "Run one condensation now; the exit status is its outcome code.",
			Args:  cobra.NoArgs,
			RunE:  oneShot(cycle.Condensation),
		},
		&cobra.Command{
			Use:   "mkconf",
			Short: "Write a complete configuration file.",
			Args:  cobra.NoArgs,
			RunE:  mkconf,
		},
		&cobra.Command{
			Use:   "conf",
			Short: "Print the merged configuration.",
			Args:  cobra.NoArgs,
			RunE:  printconf,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information.",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "cryocycle version %v\n", Version)
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func load() (config.Config, error) {
	return config.NewLoader(ConfigFileName).Load()
}

func newLogger(c config.Config) *zap.SugaredLogger {
	lvl, ok := logger.ParseLevel(c.LogLevel)
	log := logger.NewWriter(os.Stderr, lvl)
	if !ok {
		log.Warnw("unknown log level, using info", "level", c.LogLevel)
	}
	return log
}

func mkconf(cmd *cobra.Command, args []string) error {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(config.Example())
}

func printconf(cmd *cobra.Command, args []string) error {
	c, err := load()
	if err != nil && !errors.Is(err, config.ErrMissingKeys) {
		return err
	}
	if encErr := yml.NewEncoder(cmd.OutOrStdout()).Encode(c); encErr != nil {
		return encErr
	}
	return err
}

func run(cmd *cobra.Command, args []string) error {
	c, err := load()
	if err != nil {
		return err
	}
	log := newLogger(c)
	defer log.Sync()
	cfg, err := c.CycleConfig()
	if err != nil {
		return err
	}
	sched, err := c.CycleSchedule()
	if err != nil {
		return err
	}
	refresh, err := c.TelemetryRefresh()
	if err != nil {
		return err
	}
	cat, err := notify.NewCatalog(c.Notify.Messages)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl := buildController(c.Device)
	disp := notify.NewDispatcher(cat, buildSinks(c.Notify, log), c.Notify.Queue, log.Named("notify"))
	defer disp.Close()
	sup := cycle.NewSupervisor(ctl, disp, log.Named("cycle"))

	reg := prometheus.NewRegistry()
	mets := metrics.New(reg, sup.Running)
	events, unsubscribe := sup.Subscribe(64)
	defer unsubscribe()
	go mets.Consume(ctx, events)

	tel, err := telemetry.New(ctl, refresh, c.Telemetry.Length, log.Named("telemetry"))
	if err != nil {
		return err
	}
	tel.OnSample = func(s telemetry.Sample) { mets.ObserveChannels(s.Values) }
	go tel.Run(ctx)

	if c.Notify.Digest != "" {
		digest, err := notify.NewDigest(c.Notify.Digest, sched.Location, disp, cat, log.Named("digest"))
		if err != nil {
			return err
		}
		devents, dunsubscribe := sup.Subscribe(64)
		defer dunsubscribe()
		go digest.Consume(ctx, devents)
		digest.Start()
		defer digest.Stop()
	}

	mux := BuildMux(nodes(c, ctl, sup, cfg, sched, tel), map[string]http.Handler{"/metrics": metrics.Handler(reg)})
	srv := &http.Server{Addr: c.Addr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.Infow("now listening for requests", "addr", c.Addr, "mock", c.Device.Mock)

	if startNow || c.Schedule.AutoStart {
		if _, err := sup.Start(cfg, sched); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err = <-serveErr:
		log.Errorw("server failed", "err", err)
	}
	if cerr := sup.Stop(sup.Current()); cerr != nil {
		log.Errorw("cycle had stopped", "err", cerr)
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Errorw("server shutdown", "err", serr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// oneShot returns a command running process p once against the device with
// a spinner showing the stage.  Ctrl-C cancels the run.
func oneShot(p cycle.Process) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := load()
		if err != nil {
			return err
		}
		log := newLogger(c)
		defer log.Sync()
		cfg, err := c.CycleConfig()
		if err != nil {
			return err
		}
		cat, err := notify.NewCatalog(c.Notify.Messages)
		if err != nil {
			return err
		}
		disp := notify.NewDispatcher(cat, buildSinks(c.Notify, log), c.Notify.Queue, log.Named("notify"))
		defer disp.Close()

		spinner, err := yacspin.New(yacspin.Config{
			Frequency:         250 * time.Millisecond,
			CharSet:           yacspin.CharSets[14],
			Suffix:            " " + string(p),
			SuffixAutoColon:   true,
			Message:           string(cycle.StageIdle),
			StopCharacter:     "✓",
			StopColors:        []string{"fgGreen"},
			StopFailCharacter: "✗",
			StopFailColors:    []string{"fgRed"},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := cycle.NewRunner(buildController(c.Device), log.Named("runner"))
		runner.Channels = cfg.Channels
		runner.OnStage = func(_ cycle.Process, st cycle.Stage) { spinner.Message(string(st)) }

		if err := spinner.Start(); err != nil {
			return err
		}
		var res cycle.Result
		if p == cycle.Evaporation {
			res = runner.Evaporate(ctx, cfg.Evap)
		} else {
			res = runner.Condense(ctx, cfg.Cond)
		}
		msg := fmt.Sprintf("%s after %s", res.Outcome, res.Finished.Sub(res.Started).Round(time.Second))
		if res.Outcome == cycle.Success {
			spinner.StopMessage(msg)
			spinner.Stop()
		} else {
			spinner.StopFailMessage(msg)
			spinner.StopFail()
		}

		ev := cycle.Event{
			Time:    res.Finished,
			Handle:  "manual",
			Process: res.Process,
			Trigger: cycle.Manual,
			Outcome: res.Outcome,
			Stage:   res.Stage,
		}
		if res.Err != nil {
			ev.Err = res.Err.Error()
		}
		if err := disp.Notify(context.Background(), ev); err != nil {
			log.Warnw("notification failed", "err", err)
		}
		exitCode = res.Outcome.Code()
		return nil
	}
}
