package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/P2PSP/crossroads/internal/engine"
	"github.com/P2PSP/crossroads/internal/logging"
	"github.com/P2PSP/crossroads/internal/remote"
)

var rootCmd = &cobra.Command{
	Use:   "crossroads-engine",
	Short: "Run splitter/monitor pairs on behalf of a remote control plane",
	Long: `crossroads-engine connects to a control plane started with
STANDALONE_ENGINE=true, authenticates it with the shared key file and runs
the channels it is asked to launch on this host.

Every flag can also be set from the environment with the ENGINE_ prefix,
e.g. ENGINE_IP, ENGINE_PORT, ENGINE_KEY.

Example:
  crossroads-engine -i 10.0.0.2 -p 8000 -k /etc/crossroads/crossroads.key
`,
	SilenceUsage: true,
	RunE:         runEngine,
}

func init() {
	rootCmd.Flags().StringP("ip", "i", "127.0.0.1", "Control plane address")
	rootCmd.Flags().IntP("port", "p", 8000, "Control plane engine port")
	rootCmd.Flags().StringP("key", "k", "crossroads.key", "Shared key file")

	rootCmd.Flags().String("bind-address", "127.0.0.1", "Address the workers listen on")
	rootCmd.Flags().String("splitter-dir", ".", "Directory holding the splitter binary")
	rootCmd.Flags().String("monitor-dir", ".", "Directory holding the monitor binary")
	rootCmd.Flags().String("log-dir", os.TempDir(), "Directory for worker output")
	rootCmd.Flags().Duration("settle", engine.DefaultSettleDelay, "How long a worker must survive to count as started")

	rootCmd.Flags().String("log-level", "info", "Log level")
	rootCmd.Flags().String("log-path", "stderr", "Log file, or stdout/stderr")
	rootCmd.Flags().Bool("log-pretty", false, "Human readable logs")
	rootCmd.Flags().Int("log-diode-buf", 0, "Non-blocking log buffer size, 0 writes directly")

	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runEngine(cmd *cobra.Command, args []string) error {
	if err := logging.Init(logging.Config{
		Level:    viper.GetString("log-level"),
		Path:     viper.GetString("log-path"),
		Pretty:   viper.GetBool("log-pretty"),
		DiodeBuf: viper.GetInt("log-diode-buf"),
	}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	key, err := remote.ReadKey(viper.GetString("key"))
	if err != nil {
		return err
	}

	engine.SetStandalone(true)

	launcher := engine.NewLauncher(engine.LauncherConfig{
		BindAddress: viper.GetString("bind-address"),
		SplitterDir: viper.GetString("splitter-dir"),
		MonitorDir:  viper.GetString("monitor-dir"),
		SettleDelay: viper.GetDuration("settle"),
	}, engine.WithLogSinks(engine.NewFileSinks(viper.GetString("log-dir"))))

	sup := engine.NewSupervisor(launcher)
	agent := remote.NewAgent(key, sup)
	sup.SetRemoveHook(agent.NotifyRemove)

	// every exit path below goes through here
	defer sup.KillAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = agent.DialAndRun(ctx, viper.GetString("ip"), viper.GetInt("port"))
	switch {
	case errors.Is(err, remote.ErrAuthentication):
		return fmt.Errorf("control plane rejected: %w", err)
	case err != nil:
		return err
	}

	log.Info().Str("mode", engine.ModeName()).Dur("uptime", time.Since(start)).Msg("engine shutting down")
	return nil
}
