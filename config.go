package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tomaslejdung/obscam/pkg/settings"
	"github.com/tomaslejdung/obscam/pkg/switcher"
	"github.com/tomaslejdung/obscam/pkg/transport"
)

// LocalSignalServer is the hub started by cmd/server with default settings.
const LocalSignalServer = "ws://localhost:3001/ws"

// Config holds runtime configuration
type Config struct {
	Publish   bool
	SignalURL string
	Help      bool

	// Publisher identity
	DisplayName string
	ExternalID  string
	EndpointID  string
	IVFPath     string
	Hidden      bool

	// Observer options
	Previews           bool
	NegotiationTimeout time.Duration

	LogFile  string
	LogLevel string

	// Save writes identity and connection flags back to the settings file.
	Save bool

	ICE transport.ICEConfig
}

func parseFlags(args []string, defaults settings.UserSettings) (Config, error) {
	config := Config{}
	var localMode bool

	fs := flag.NewFlagSet("obscam", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&config.Publish, "publish", false, "Publish a camera source instead of observing")
	fs.BoolVar(&config.Publish, "P", false, "Publish a camera source (shorthand)")

	fs.StringVar(&config.SignalURL, "signal", defaults.SignalURL, "Signal server URL")
	fs.BoolVar(&localMode, "local", false, "Use local signal server ("+LocalSignalServer+")")

	fs.StringVar(&config.DisplayName, "name", defaults.DisplayName, "Source display name")
	fs.StringVar(&config.ExternalID, "external-id", defaults.ExternalID, "Game identity (SteamID64) of this source")
	fs.StringVar(&config.EndpointID, "endpoint", defaults.EndpointID, "Source endpoint id (generated when empty)")
	fs.StringVar(&config.IVFPath, "ivf", defaults.IVFPath, "IVF (VP8/VP9) file looped as the source's video")
	fs.BoolVar(&config.Hidden, "hidden", false, "Register the source hidden from viewers")

	fs.BoolVar(&config.Previews, "previews", defaults.Previews, "Open a preview slot per visible source")
	fs.DurationVar(&config.NegotiationTimeout, "timeout", switcher.DefaultNegotiationTimeout, "Negotiation timeout per session")

	fs.StringVar(&config.LogFile, "log", "obscam-debug.log", "Log file (the TUI owns the terminal)")
	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	fs.BoolVar(&config.Save, "save", false, "Persist signal URL and identity flags as defaults")

	fs.StringVar(&config.ICE.TURNServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.ICE.TURNUser, "turn-user", "", "TURN server username")
	fs.StringVar(&config.ICE.TURNPass, "turn-pass", "", "TURN server password")
	fs.BoolVar(&config.ICE.ForceRelay, "force-relay", false, "Force TURN relay (disable direct P2P)")

	fs.BoolVar(&config.Help, "help", false, "Show help")
	fs.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if localMode {
		config.SignalURL = LocalSignalServer
	}
	config.SignalURL = normalizeSignalURL(config.SignalURL)

	if config.Publish {
		if config.DisplayName == "" {
			return config, fmt.Errorf("publish mode needs --name")
		}
		if config.IVFPath == "" {
			return config, fmt.Errorf("publish mode needs --ivf")
		}
	}
	return config, nil
}

// normalizeSignalURL turns http(s) and bare host URLs into WebSocket URLs
// ending in the hub's /ws path.
func normalizeSignalURL(signalURL string) string {
	signalURL = strings.TrimSpace(signalURL)
	if signalURL == "" {
		return LocalSignalServer
	}

	if strings.HasPrefix(signalURL, "http://") {
		signalURL = "ws://" + strings.TrimPrefix(signalURL, "http://")
	} else if strings.HasPrefix(signalURL, "https://") {
		signalURL = "wss://" + strings.TrimPrefix(signalURL, "https://")
	} else if !strings.HasPrefix(signalURL, "ws://") && !strings.HasPrefix(signalURL, "wss://") {
		signalURL = "wss://" + signalURL
	}

	signalURL = strings.TrimSuffix(signalURL, "/")
	if !strings.HasSuffix(signalURL, "/ws") {
		signalURL += "/ws"
	}
	return signalURL
}

// withSettings copies the persistable parts of config into s.
func (c Config) withSettings(s settings.UserSettings) settings.UserSettings {
	s.SignalURL = c.SignalURL
	s.Previews = c.Previews
	if c.Publish {
		s.DisplayName = c.DisplayName
		s.ExternalID = c.ExternalID
		s.EndpointID = c.EndpointID
		s.IVFPath = c.IVFPath
	}
	return s
}

func printHelp() {
	fmt.Println(`obscam - Spectator camera switching for CS2 observers

Usage: obscam [options]

By default obscam runs as an observer: it follows the spectate feed of the
signal server and shows the camera of whoever is being spectated.

Options:
  --signal <url>          Signal server URL (default: saved setting or ` + LocalSignalServer + `)
  --local                 Use local signal server (` + LocalSignalServer + `)
  --previews              Open a preview tile per visible source
  --timeout <dur>         Negotiation timeout per session (default: 12s)
  --log <file>            Log file (default: obscam-debug.log)
  --log-level <level>     debug, info, warn, error
  --save                  Persist signal URL and identity as defaults
  --help, -h              Show help

Publisher Options:
  --publish, -P           Publish a camera source
  --name <name>           Display name (usually the in-game name)
  --external-id <id>      SteamID64 used by the spectate feed
  --endpoint <id>         Endpoint id (generated and saved when empty)
  --ivf <file>            IVF file looped as video
  --hidden                Start hidden from viewers

Network Options:
  --turn <url>            TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>      TURN server username
  --turn-pass <pass>      TURN server password
  --force-relay           Force TURN relay (disable direct P2P connections)

Examples:
  obscam --local --previews
  obscam --publish --name alice --external-id 76561198000000001 --ivf cam.ivf

TUI Controls (observer):
  ↑/↓ or j/k    Navigate sources
  Enter         Pin selected source to the main slot
  u             Unpin (follow the feed again)
  i             Toggle stats panel
  q / ctrl+c    Quit

TUI Controls (publisher):
  v             Toggle visibility
  l             Load feed players
  ↑/↓, Enter    Link this source to a feed player
  q / ctrl+c    Quit`)
}
