package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/plclink"
)

var (
	watchAddr     uint16
	watchCount    uint16
	watchFormat   string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <coils|discrete-inputs|holding-registers|input-registers>",
	Short: "Poll a table on an interval, reconnecting when the link drops",
	Long: `Poll one table on an interval through a single long-lived client.

The liveness loop stays on, so a controller that goes away is probed and
redialed in the background; polls fail until the link is back.`,
	Example: `  plcctl watch hr -a 0 -c 4 -i 500ms
  plcctl watch coils -a 0 -c 16 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Uint16VarP(&watchAddr, "address", "a", 0, "Starting address")
	watchCmd.Flags().Uint16VarP(&watchCount, "count", "c", 1, "Number of items to read")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "uint16", "Register format: uint16, int16, hex, float32")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "Poll interval")
}

func tableFunction(kind string) (modbus.FunctionCode, error) {
	switch kind {
	case "coils", "coil", "c":
		return modbus.FuncReadCoils, nil
	case "discrete-inputs", "discrete", "di":
		return modbus.FuncReadDiscreteInputs, nil
	case "holding-registers", "holding", "hr":
		return modbus.FuncReadHoldingRegisters, nil
	case "input-registers", "input", "ir":
		return modbus.FuncReadInputRegisters, nil
	default:
		return 0, fmt.Errorf("unknown table %q", kind)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	fc, err := tableFunction(args[0])
	if err != nil {
		return err
	}
	if watchInterval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	order, err := modbus.ParseRegisterOrder(cfg.Order)
	if err != nil {
		return err
	}

	client, err := createClient(cfg,
		modbus.WithOnConnect(func() {
			fmt.Fprintf(os.Stderr, "%s connected\n", time.Now().Format(time.TimeOnly))
		}),
		modbus.WithOnDisconnect(func(cause error) {
			fmt.Fprintf(os.Stderr, "%s link lost: %v\n", time.Now().Format(time.TimeOnly), cause)
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		pollCtx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
		rows, err := readRows(pollCtx, client, fc, watchAddr, watchCount, watchFormat, order)
		cancel()
		switch {
		case err == nil:
			title := fmt.Sprintf("%s %s", time.Now().Format(time.TimeOnly), fc)
			if err := writeRows(os.Stdout, cfg.Output, title, rows); err != nil {
				return err
			}
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return nil
		default:
			fmt.Fprintf(os.Stderr, "%s poll failed: %v\n", time.Now().Format(time.TimeOnly), err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
