// Command taskmasterd is the supervision daemon: it loads a program
// config, spawns the supervisor loop, and serves the control channel
// until terminated.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/control"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/manager"
	"github.com/tdameros/taskmaster-go/internal/supervisor"
)

func main() {
	var configPath string
	var logPath string
	var listenAddr string
	var refreshPeriod time.Duration

	root := &cobra.Command{
		Use:   "taskmasterd",
		Short: "Taskmaster supervision daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logPath, listenAddr, refreshPeriod)
		},
	}

	root.Flags().StringVar(&configPath, "config", "./config.yaml", "path to the program configuration file")
	root.Flags().StringVar(&logPath, "log", "./log.txt", "path to the append-only log file")
	root.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8080", "control channel listen address")
	root.Flags().DurationVar(&refreshPeriod, "refresh-period", supervisor.DefaultPeriod, "monitor tick period")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logPath, listenAddr string, refreshPeriod time.Duration) error {
	log, err := logging.New(logPath)
	if err != nil {
		return fmt.Errorf("taskmasterd: opening log: %w", err)
	}
	defer log.Sync()

	log.Infof("starting a new daemon instance")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("taskmasterd: loading config: %w", err)
	}
	log.Infof("loaded config from %s (%d programs)", configPath, len(cfg))

	m := manager.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := supervisor.New(m, refreshPeriod)
	go loop.Run(ctx)

	reload := func() (config.Config, error) { return config.Load(configPath) }
	surface := control.New(m, log, reload)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("taskmasterd: binding %s: %w", listenAddr, err)
	}
	log.Infof("taskmaster daemon listening on %s", listenAddr)

	serveErr := make(chan error, 1)
	go func() { serveErr <- surface.Serve(ctx, ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Infof("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Errorf("control surface stopped: %v", err)
		}
	}

	cancel()
	m.Mu.Lock()
	m.ShutdownAllPrograms()
	m.Mu.Unlock()
	log.Infof("taskmaster daemon stopped")
	return nil
}
