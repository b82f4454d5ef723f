// localtalkd is a LocalSend v2 compatible file-receiver daemon.
//
// Usage:
//
//	localtalkd [options]
//
// Options:
//
//	-port      HTTP/multicast port (default: 53317)
//	-address   multicast discovery address (default: 224.0.0.167)
//	-storage   directory incoming files are written to (default: .)
//	-alias     device alias advertised to peers (default: hostname)
//	-pin       optional PIN required for prepare-upload
//	-debug     enable debug-level logging
//
// Example:
//
//	localtalkd -port 53317 -storage ./received -alias "Office PC"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/config"
	"github.com/backkem/localtalk/pkg/device"
	"github.com/backkem/localtalk/pkg/runtime"
)

// options holds the daemon's CLI flags.
type options struct {
	port      int
	address   string
	storage   string
	alias     string
	pin       string
	maxPerMin int
	debug     bool
}

func defaultOptions() options {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "LocalTalk Device"
	}
	return options{
		port:      config.DefaultPort,
		address:   config.DefaultAddress,
		storage:   ".",
		alias:     hostname,
		maxPerMin: 100,
	}
}

func parseFlags() options {
	defaults := defaultOptions()
	o := options{}

	flag.IntVar(&o.port, "port", defaults.port, "HTTP/multicast port")
	flag.StringVar(&o.address, "address", defaults.address, "multicast discovery address")
	flag.StringVar(&o.storage, "storage", defaults.storage, "directory incoming files are written to")
	flag.StringVar(&o.alias, "alias", defaults.alias, "device alias advertised to peers")
	flag.StringVar(&o.pin, "pin", "", "optional PIN required for prepare-upload")
	flag.IntVar(&o.maxPerMin, "max-requests-per-minute", defaults.maxPerMin, "per-remote rate limit")
	flag.BoolVar(&o.debug, "debug", false, "enable debug-level logging")
	flag.Parse()

	return o
}

func (o options) toConfig() config.Config {
	cfg := config.Default()
	cfg.Port = o.port
	cfg.Address = o.address
	cfg.RequiredPin = o.pin
	cfg.Security.MaxRequestsPerMinute = o.maxPerMin
	if o.debug {
		cfg.Logging.MinLevel = logging.LogLevelDebug
		cfg.Logging.EnableDebug = true
	}
	cfg.Logging.EnableConsole = true
	return cfg
}

func main() {
	o := parseFlags()
	cfg := o.toConfig()

	if err := os.MkdirAll(o.storage, 0o755); err != nil {
		log.Fatalf("create storage directory: %v", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	if cfg.Logging.MinLevel != 0 {
		lf.DefaultLogLevel = cfg.Logging.MinLevel
	}

	rt, err := runtime.New(runtime.Options{
		Config:     cfg,
		StorageDir: o.storage,
		Self: device.Device{
			Alias:      o.alias,
			DeviceType: device.DeviceTypeDesktop,
		},
		LoggerFactory: lf,
		OnStateChanged: func(s runtime.State) {
			log.Printf("runtime state: %s", s)
		},
	})
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	if err := run(rt, cfg); err != nil {
		log.Fatalf("localtalkd: %v", err)
	}
}

// run starts rt and blocks until SIGINT/SIGTERM, then stops it. Separated
// from main so the shutdown path is testable without os.Exit semantics.
func run(rt *runtime.Runtime, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	printBanner(rt, cfg)

	<-ctx.Done()
	log.Println("shutting down...")

	if err := rt.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func printBanner(rt *runtime.Runtime, cfg config.Config) {
	self := rt.Self()
	fmt.Println("========================================")
	fmt.Println("          LocalTalk Daemon Ready")
	fmt.Println("========================================")
	fmt.Printf("Alias:        %s\n", self.Alias)
	fmt.Printf("Fingerprint:  %s\n", self.Fingerprint)
	fmt.Printf("Port:         %d\n", cfg.Port)
	fmt.Printf("Address:      %s\n", cfg.Address)
	if cfg.RequiredPin != "" {
		fmt.Println("PIN:          required")
	}
	fmt.Println("========================================")
}
