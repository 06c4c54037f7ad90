package main

import (
	"flag"

	"github.com/fako1024/slimcast/config"
)

const (
	ConfigPath   = "config"
	Listen       = "listen"
	Output       = "output"
	Format       = "format"
	KernelFilter = "kernel-filter"
	LogLevel     = "log-level"
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
	flag.StringVar(&flags.Listener.Listen, Listen, defaults.Listener.Listen, "local address to receive the stream on")
	flag.StringVar(&flags.Listener.Output, Output, defaults.Listener.Output, "output file (- for STDOUT)")
	flag.StringVar(&flags.Listener.Format, Format, defaults.Listener.Format, "output format (raw, wav)")
	flag.BoolVar(&flags.Listener.KernelFilter, KernelFilter, defaults.Listener.KernelFilter, "drop datagrams of unexpected size in the kernel")
	flag.StringVar(&flags.Logging.Level, LogLevel, defaults.Logging.Level, "log level")

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
		case Listen:
			cfg.Listener.Listen = flags.Listener.Listen
		case Output:
			cfg.Listener.Output = flags.Listener.Output
		case Format:
			cfg.Listener.Format = flags.Listener.Format
		case KernelFilter:
			cfg.Listener.KernelFilter = flags.Listener.KernelFilter
		case LogLevel:
			cfg.Logging.Level = flags.Logging.Level
		}
	})

	return cfg, cfg.Validate()
}
