package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/settings"
)

func main() {
	defaults, err := settings.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read settings: %v\n", err)
	}

	config, err := parseFlags(os.Args[1:], defaults)
	if errors.Is(err, flag.ErrHelp) || config.Help {
		printHelp()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printHelp()
		os.Exit(2)
	}

	// Write logs to file instead of corrupting the TUI display
	var logOut io.Writer = io.Discard
	if config.LogFile != "" {
		f, err := os.Create(config.LogFile)
		if err == nil {
			defer f.Close()
			logOut = f
		}
	}
	log := logger.NewWithWriter(logOut, config.LogLevel, "text")
	log.Info("obscam started", "time", time.Now().Format(time.RFC3339), "publish", config.Publish, "signal", config.SignalURL)

	if config.Save {
		if err := settings.Save(config.withSettings(defaults)); err != nil {
			log.Warn("save settings", "error", err)
		}
	}

	if err := run(config, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(config Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dial := dialURL(config.SignalURL, log)

	if config.Publish {
		p, err := newPublisher(config, dial, log)
		if err != nil {
			return err
		}
		p.onRegistered = func(id identity) { saveIdentity(id, log) }
		return RunTUI(config, nil, p, func() error { return p.Run(ctx) }, cancel)
	}

	o := newObserver(config, dial, log)
	return RunTUI(config, o, nil, func() error { return o.Run(ctx) }, cancel)
}

// saveIdentity persists the accepted identity so the next run registers under
// the same endpoint id.
func saveIdentity(id identity, log *slog.Logger) {
	s, err := settings.Load()
	if err != nil {
		log.Warn("load settings", "error", err)
		return
	}
	if s.EndpointID == id.EndpointID && s.DisplayName == id.DisplayName && s.ExternalID == id.ExternalID {
		return
	}
	s.EndpointID = id.EndpointID
	s.DisplayName = id.DisplayName
	s.ExternalID = id.ExternalID
	if err := settings.Save(s); err != nil {
		log.Warn("save settings", "error", err)
	}
}
