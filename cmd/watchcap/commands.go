package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/watchcap"
	"github.com/loykin/watchcap/internal/device"
	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/logger"
	"github.com/loykin/watchcap/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

// runDaemon assembles the full supervisor from the config file and runs it
// until a signal or a stop request arrives.
func runDaemon(cfgPath string) error {
	fc, err := watchcap.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	log := fc.Logger().NewSlogger()

	var history watchcap.HistoryStore
	var sinks []watchcap.EventSink
	if fc.History.Enabled {
		history, err = watchcap.NewHistoryStore(context.Background(), fc.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer func() { _ = history.Close() }()
		sinks = append(sinks, watchcap.HistorySink(history))
	}
	elog := watchcap.NewEventLog(fc.EventLog, sinks...)
	defer func() { _ = elog.Close() }()

	sup, err := watchcap.New(fc.Supervisor(), elog, log)
	if err != nil {
		return err
	}

	if err := watchcap.RegisterMetricsDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	if fc.Server.Enabled {
		addr := fc.Server.Listen
		if addr == "" {
			addr = ":8080"
		}
		basePath := fc.Server.BasePath
		if basePath == "" {
			basePath = "/api"
		}
		srv, err := watchcap.NewHTTPServer(addr, basePath, sup, history)
		if err != nil {
			return fmt.Errorf("start control server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("control server listening", "addr", addr, "base_path", basePath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}

// directConfig builds the supervisor config from the run flags alone.
func directConfig(f RunFlags) (watchcap.Config, error) {
	cfg := watchcap.Config{
		Device:   watchcap.DeviceHandle{Path: f.Device},
		Producer: watchcap.ProcSpec{Command: f.ProducerCommand},
		Consumer: watchcap.ProcSpec{Command: f.ConsumerCommand},
	}
	if err := cfg.Validate(); err != nil {
		return watchcap.Config{}, fmt.Errorf("run needs --config or --device, --producer-command and --consumer-command: %w", err)
	}
	return cfg, nil
}

// runDirect supervises a pipeline given entirely on the command line, with
// default policy, logging and no control server.
func runDirect(f RunFlags) error {
	cfg, err := directConfig(f)
	if err != nil {
		return err
	}
	// no config file means no event-log path; emit diagnostics on stderr
	elog := eventlog.NewWithWriter(os.Stderr)

	sup, err := watchcap.New(cfg, elog, logger.Config{}.NewSlogger())
	if err != nil {
		return err
	}
	if err := watchcap.RegisterMetricsDefault(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return sup.Run(ctx)
}

func apiClient(f APIFlags) *client.Client {
	url := f.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: url, Timeout: f.APITimeout})
}

func requireReachable(ctx context.Context, c *client.Client, f APIFlags) error {
	if !c.IsReachable(ctx) {
		url := f.APIUrl
		if url == "" {
			url = defaultAPIUrl
		}
		return fmt.Errorf("daemon not reachable at %s - start it first with 'watchcap run'", url)
	}
	return nil
}

func runStatus(f StatusFlags) error {
	c := apiClient(f.APIFlags)
	ctx := context.Background()
	if err := requireReachable(ctx, c, f.APIFlags); err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func runReset(f ResetFlags) error {
	c := apiClient(f.APIFlags)
	ctx := context.Background()
	if err := requireReachable(ctx, c, f.APIFlags); err != nil {
		return err
	}
	if err := c.Reset(ctx); err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func runStop(f StopFlags) error {
	c := apiClient(f.APIFlags)
	ctx := context.Background()
	if err := requireReachable(ctx, c, f.APIFlags); err != nil {
		return err
	}
	return c.Stop(ctx)
}

func runEvents(f EventsFlags) error {
	c := apiClient(f.APIFlags)
	ctx := context.Background()
	if err := requireReachable(ctx, c, f.APIFlags); err != nil {
		return err
	}
	evs, err := c.Events(ctx, f.Limit)
	if err != nil {
		return err
	}
	printJSON(evs)
	return nil
}

// runCheck performs a single device health check without starting processes.
func runCheck(f CheckFlags) error {
	h, err := device.Resolve(f.DevicePath, "", "")
	if err != nil {
		return fmt.Errorf("device %s: %w", f.DevicePath, err)
	}
	probe := f.ProbeCommand
	if probe == "" {
		probe = device.DefaultProbeCommand
	}
	m := device.NewMonitor(h, device.CommandProber{Command: probe}, 0, f.ProbeTimeout)
	st := m.Check(context.Background())
	fmt.Printf("device=%s health=%s\n", h.Path, st)
	if st != device.Healthy {
		os.Exit(1)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
