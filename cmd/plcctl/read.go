package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/plclink"
)

var (
	readAddr   uint16
	readCount  uint16
	readFormat string
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from the controller",
}

var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	RunE:    runRead(modbus.FuncReadCoils),
}

var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	RunE:    runRead(modbus.FuncReadDiscreteInputs),
}

var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Long: `Read holding registers using function code 03.

Formats for -f/--format:
  uint16  - raw unsigned value (default)
  int16   - two's-complement signed value
  hex     - hexadecimal
  float32 - IEEE-754 REAL from register pairs, see --order`,
	RunE: runRead(modbus.FuncReadHoldingRegisters),
}

var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	RunE:    runRead(modbus.FuncReadInputRegisters),
}

func init() {
	readCmd.AddCommand(readCoilsCmd)
	readCmd.AddCommand(readDiscreteInputsCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)

	for _, cmd := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
	}
	for _, cmd := range []*cobra.Command{readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Data format: uint16, int16, hex, float32")
	}
}

func runRead(fc modbus.FunctionCode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		order, err := modbus.ParseRegisterOrder(cfg.Order)
		if err != nil {
			return err
		}
		count := readCount
		if readFormat == "float32" && !cmd.Flags().Changed("count") {
			count = 2
		}

		client, err := createClient(cfg, modbus.WithLivenessInterval(0))
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout+cfg.ReadTimeout)
		defer cancel()

		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}

		rows, err := readRows(ctx, client, fc, readAddr, count, readFormat, order)
		if err != nil {
			return err
		}
		title := fmt.Sprintf("%s @ %s (unit %d)", fc, client.Address(), client.UnitID())
		return writeRows(os.Stdout, cfg.Output, title, rows)
	}
}

func readRows(ctx context.Context, client *modbus.Client, fc modbus.FunctionCode, addr, count uint16, format string, order modbus.RegisterOrder) ([]Row, error) {
	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		read := client.ReadCoils
		if fc == modbus.FuncReadDiscreteInputs {
			read = client.ReadDiscreteInputs
		}
		values, err := read(ctx, addr, count)
		if err != nil {
			return nil, err
		}
		return boolRows(addr, values), nil
	default:
		read := client.ReadHoldingRegisters
		if fc == modbus.FuncReadInputRegisters {
			read = client.ReadInputRegisters
		}
		regs, err := read(ctx, addr, count)
		if err != nil {
			return nil, err
		}
		return registerRows(addr, regs, format, order)
	}
}
