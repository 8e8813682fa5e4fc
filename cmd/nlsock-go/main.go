package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/database64128/nlsock-go/jsoncfg"
	"github.com/database64128/nlsock-go/logging"
	"github.com/database64128/nlsock-go/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	testConf bool
	confPath string
	zapConf  string
	logLevel zapcore.Level
)

func init() {
	flag.BoolVar(&testConf, "testConf", false, "Test the configuration file without starting the services")
	flag.StringVar(&confPath, "confPath", "", "Path to JSON configuration file")
	flag.StringVar(&zapConf, "zapConf", "console", "Preset name or path to JSON configuration file for building the zap logger.\nAvailable presets: console, console-nocolor, console-notime, systemd, production, development")
	flag.TextVar(&logLevel, "logLevel", zapcore.InfoLevel, "Log level for the console and systemd presets.\nAvailable levels: debug, info, warn, error, dpanic, panic, fatal")
}

func main() {
	flag.Parse()

	if confPath == "" {
		fmt.Fprintln(os.Stderr, "Missing -confPath <path>.")
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(zapConf, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var sc service.Config
	if err = jsoncfg.Open(confPath, &sc); err != nil {
		logger.Fatal("Failed to load config",
			zap.String("confPath", confPath),
			zap.Error(err),
		)
	}

	if err = sc.Log.Check(); err != nil {
		logger.Fatal("Bad log config",
			zap.String("confPath", confPath),
			zap.Error(err),
		)
	}

	m, err := sc.Manager(sc.Log.NewLogger(os.Stderr))
	if err != nil {
		logger.Fatal("Failed to create service manager",
			zap.String("confPath", confPath),
			zap.Error(err),
		)
	}

	if testConf {
		logger.Info("Config test OK", zap.String("confPath", confPath))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = m.Start(ctx); err != nil {
		logger.Error("Failed to start services",
			zap.String("confPath", confPath),
			zap.Error(err),
		)
		if err = m.Stop(); err != nil {
			logger.Warn("Failed to stop services", zap.Error(err))
		}
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Started services", zap.String("confPath", confPath))

	<-ctx.Done()
	logger.Info("Received exit signal")

	if err = m.Stop(); err != nil {
		logger.Warn("Failed to stop services", zap.Error(err))
	}
}
