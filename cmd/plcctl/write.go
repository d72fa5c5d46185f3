package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/plclink"
)

var (
	writeAddr   uint16
	writeValues []string
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write data to the controller",
}

var writeCoilCmd = &cobra.Command{
	Use:   "coil",
	Short: "Write a single coil (FC05)",
	Long: `Write a single coil using function code 05.

Value can be: 1, 0, true, false, on, off`,
	Example: `  plcctl write coil -a 0 -V on -H 192.168.1.10`,
	RunE:    runWriteCoil,
}

var writeCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"cs"},
	Short:   "Write multiple coils (FC15)",
	Example: `  plcctl write coils -a 0 -V 1,0,1,1`,
	RunE:    runWriteCoils,
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"reg", "r"},
	Short:   "Write a single holding register (FC06)",
	Long: `Write a single holding register using function code 06.

Value can be decimal, negative (stored as int16), hexadecimal (0x), octal (0o)
or binary (0b).`,
	Example: `  plcctl write register -a 10 -V 0x1234
  plcctl w r -a 11 -V -42`,
	RunE: runWriteRegister,
}

var writeRegistersCmd = &cobra.Command{
	Use:     "registers",
	Aliases: []string{"regs", "rs"},
	Short:   "Write multiple holding registers (FC16)",
	Example: `  plcctl write registers -a 0 -V 100,200,300`,
	RunE:    runWriteRegisters,
}

var writeFloatCmd = &cobra.Command{
	Use:     "float",
	Aliases: []string{"real", "f"},
	Short:   "Write a float32 value into two holding registers (FC16)",
	Example: `  plcctl write float -a 100 -V 21.5 --order lowhigh`,
	RunE:    runWriteFloat,
}

func init() {
	writeCmd.AddCommand(writeCoilCmd)
	writeCmd.AddCommand(writeCoilsCmd)
	writeCmd.AddCommand(writeRegisterCmd)
	writeCmd.AddCommand(writeRegistersCmd)
	writeCmd.AddCommand(writeFloatCmd)

	for _, cmd := range []*cobra.Command{writeCoilCmd, writeCoilsCmd, writeRegisterCmd, writeRegistersCmd, writeFloatCmd} {
		cmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "Starting address")
		cmd.Flags().StringSliceVarP(&writeValues, "values", "V", nil, "Values to write")
		cmd.MarkFlagRequired("values")
	}
}

// withClient connects a one-shot client, without a liveness loop, and runs fn.
func withClient(fn func(ctx context.Context, client *modbus.Client, cfg *Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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
	return fn(ctx, client, cfg)
}

func runWriteCoil(cmd *cobra.Command, args []string) error {
	if len(writeValues) != 1 {
		return fmt.Errorf("exactly one value required")
	}
	value, err := parseBool(writeValues[0])
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *modbus.Client, _ *Config) error {
		if err := client.WriteSingleCoil(ctx, writeAddr, value); err != nil {
			return fmt.Errorf("write coil: %w", err)
		}
		fmt.Printf("coil %d = %v\n", writeAddr, value)
		return nil
	})
}

func runWriteCoils(cmd *cobra.Command, args []string) error {
	var values []bool
	for _, s := range splitValues(writeValues) {
		b, err := parseBool(s)
		if err != nil {
			return err
		}
		values = append(values, b)
	}
	return withClient(func(ctx context.Context, client *modbus.Client, _ *Config) error {
		if err := client.WriteMultipleCoils(ctx, writeAddr, values); err != nil {
			return fmt.Errorf("write coils: %w", err)
		}
		fmt.Printf("%d coils written from address %d\n", len(values), writeAddr)
		return nil
	})
}

func runWriteRegister(cmd *cobra.Command, args []string) error {
	if len(writeValues) != 1 {
		return fmt.Errorf("exactly one value required")
	}
	value, err := parseRegister(writeValues[0])
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *modbus.Client, _ *Config) error {
		if err := client.WriteSingleRegister(ctx, writeAddr, value); err != nil {
			return fmt.Errorf("write register: %w", err)
		}
		fmt.Printf("register %d = %d (0x%04X)\n", writeAddr, value, value)
		return nil
	})
}

func runWriteRegisters(cmd *cobra.Command, args []string) error {
	var values []uint16
	for _, s := range splitValues(writeValues) {
		v, err := parseRegister(s)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	return withClient(func(ctx context.Context, client *modbus.Client, _ *Config) error {
		if err := client.WriteMultipleRegisters(ctx, writeAddr, values); err != nil {
			return fmt.Errorf("write registers: %w", err)
		}
		fmt.Printf("%d registers written from address %d\n", len(values), writeAddr)
		return nil
	})
}

func runWriteFloat(cmd *cobra.Command, args []string) error {
	if len(writeValues) != 1 {
		return fmt.Errorf("exactly one value required")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(writeValues[0]), 32)
	if err != nil {
		return fmt.Errorf("invalid float value %q", writeValues[0])
	}
	return withClient(func(ctx context.Context, client *modbus.Client, cfg *Config) error {
		order, err := modbus.ParseRegisterOrder(cfg.Order)
		if err != nil {
			return err
		}
		if err := client.WriteFloat32(ctx, writeAddr, float32(f), order); err != nil {
			return fmt.Errorf("write float: %w", err)
		}
		fmt.Printf("registers %d-%d = %g (%s)\n", writeAddr, writeAddr+1, float32(f), order)
		return nil
	})
}

// splitValues flattens "1,0 1" style arguments into single tokens.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' '
		})...)
	}
	return out
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid coil value %q", s)
	}
}

// parseRegister accepts any base strconv understands with a prefix, and
// negative numbers in int16 range, which are stored as two's complement.
func parseRegister(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid register value %q", s)
		}
		return modbus.Int16ToRegister(int16(v)), nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register value %q", s)
	}
	return uint16(v), nil
}
