package main

import (
	"flag"

	"github.com/fako1024/slimcast/config"
)

const (
	ConfigPath    = "config"
	Interface     = "iface"
	RemoteAddress = "remote"
	RemotePort    = "port"
	SourceType    = "source"
	SourcePath    = "path"
	LogLevel      = "log-level"
	MetricsListen = "metrics"
)

// ParseConfig parses the command line flags and loads the configuration (if a configuration
// file was provided), with explicitly set flags taking precedence over the file contents
func ParseConfig() (config.Config, error) {

	var (
		configPath string
		flags      config.Config
		defaults   = config.Default()
	)

	flag.StringVar(&configPath, ConfigPath, "", "path to YAML configuration file")
	flag.StringVar(&flags.Network.Interface, Interface, defaults.Network.Interface, "interface that has to be up before streaming")
	flag.StringVar(&flags.Network.RemoteAddress, RemoteAddress, defaults.Network.RemoteAddress, "address of the listener")
	flag.IntVar(&flags.Network.RemotePort, RemotePort, defaults.Network.RemotePort, "UDP port of the listener")
	flag.StringVar(&flags.Source.Type, SourceType, defaults.Source.Type, "sample source (pcm, tone, wav, mic)")
	flag.StringVar(&flags.Source.Path, SourcePath, defaults.Source.Path, "path of the PCM device / WAV file")
	flag.StringVar(&flags.Logging.Level, LogLevel, defaults.Logging.Level, "log level")
	flag.StringVar(&flags.Metrics.Listen, MetricsListen, defaults.Metrics.Listen, "address to expose Prometheus metrics on (disabled if empty)")

	flag.Parse()

	cfg := defaults
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case Interface:
			cfg.Network.Interface = flags.Network.Interface
		case RemoteAddress:
			cfg.Network.RemoteAddress = flags.Network.RemoteAddress
		case RemotePort:
			cfg.Network.RemotePort = flags.Network.RemotePort
		case SourceType:
			cfg.Source.Type = flags.Source.Type
		case SourcePath:
			cfg.Source.Path = flags.Source.Path
		case LogLevel:
			cfg.Logging.Level = flags.Logging.Level
		case MetricsListen:
			cfg.Metrics.Listen = flags.Metrics.Listen
		}
	})

	return cfg, cfg.Validate()
}
