package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/edgeo-scada/plclink"
	"github.com/edgeo-scada/plclink/probe"
)

// Config is the connection and output configuration, merged from flags,
// PLCCTL_* environment variables and the config file.
type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Unit             uint8         `mapstructure:"unit"`
	ConnectTimeout   time.Duration `mapstructure:"connect-timeout"`
	ReadTimeout      time.Duration `mapstructure:"read-timeout"`
	LivenessInterval time.Duration `mapstructure:"liveness"`
	Probe            string        `mapstructure:"probe"`
	Output           string        `mapstructure:"output"`
	Order            string        `mapstructure:"order"`
}

var (
	cfgFile string
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plcctl",
	Short: "Read and write PLC data over Modbus TCP",
	Long: `plcctl talks to a programmable controller acting as a Modbus TCP server.

Examples:
  # Read 10 holding registers from address 0
  plcctl read hr -a 0 -c 10 -H 192.168.1.10

  # Read a REAL value stored low word first
  plcctl read hr -a 100 -f float32 --order lowhigh

  # Switch coil 5 on
  plcctl write coil -a 5 -V on

  # Poll input registers every second, reconnecting when the link drops
  plcctl watch ir -a 0 -c 4 -i 1s

  # Run a local simulator
  plcctl serve --listen :5020`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.plcctl.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	flags.StringP("host", "H", "localhost", "Controller host")
	flags.IntP("port", "p", modbus.DefaultPort, "Controller port")
	flags.Uint8P("unit", "u", uint8(modbus.DefaultUnitID), "Modbus unit ID")
	flags.Duration("connect-timeout", modbus.DefaultConnectTimeout, "Probe and connect timeout")
	flags.DurationP("read-timeout", "t", modbus.DefaultReadTimeout, "Response timeout")
	flags.Duration("liveness", modbus.DefaultLivenessInterval, "Liveness check interval (0 disables)")
	flags.String("probe", "tcp", "Reachability probe: icmp, icmp-privileged, tcp, none")
	flags.StringP("output", "o", "table", "Output format: table, json, yaml, csv")
	flags.String("order", "lowhigh", "Register order for 32-bit values: lowhigh, highlow")

	for _, name := range []string{
		"host", "port", "unit", "connect-timeout", "read-timeout",
		"liveness", "probe", "output", "order",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".plcctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PLCCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func newProber(cfg *Config) (modbus.Prober, error) {
	switch cfg.Probe {
	case "icmp":
		return probe.ICMP{}, nil
	case "icmp-privileged":
		return probe.ICMP{Privileged: true}, nil
	case "tcp":
		return probe.TCP{Port: cfg.Port}, nil
	case "none", "":
		return probe.Static(true), nil
	default:
		return nil, fmt.Errorf("unknown probe %q", cfg.Probe)
	}
}

// createClient builds a client from the merged configuration.
func createClient(cfg *Config, extra ...modbus.Option) (*modbus.Client, error) {
	prober, err := newProber(cfg)
	if err != nil {
		return nil, err
	}
	opts := []modbus.Option{
		modbus.WithPort(cfg.Port),
		modbus.WithUnitID(modbus.UnitID(cfg.Unit)),
		modbus.WithConnectTimeout(cfg.ConnectTimeout),
		modbus.WithReadTimeout(cfg.ReadTimeout),
		modbus.WithLivenessInterval(cfg.LivenessInterval),
		modbus.WithProber(prober),
		modbus.WithLogger(logger),
	}
	return modbus.NewClient(cfg.Host, append(opts, extra...)...)
}
