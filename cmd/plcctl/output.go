package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	modbus "github.com/edgeo-scada/plclink"
)

// Row is one addressed value in command output.
type Row struct {
	Address uint16      `json:"address" yaml:"address"`
	Raw     string      `json:"raw,omitempty" yaml:"raw,omitempty"`
	Value   interface{} `json:"value" yaml:"value"`
}

func boolRows(start uint16, values []bool) []Row {
	rows := make([]Row, len(values))
	for i, v := range values {
		rows[i] = Row{Address: start + uint16(i), Value: v}
	}
	return rows
}

// registerRows formats registers as uint16, int16, hex or float32. float32
// consumes two registers per row.
func registerRows(start uint16, regs []uint16, format string, order modbus.RegisterOrder) ([]Row, error) {
	var rows []Row
	switch format {
	case "uint16", "":
		for i, r := range regs {
			rows = append(rows, Row{Address: start + uint16(i), Raw: hex16(r), Value: r})
		}
	case "int16":
		for i, r := range regs {
			rows = append(rows, Row{Address: start + uint16(i), Raw: hex16(r), Value: modbus.RegisterToInt16(r)})
		}
	case "hex":
		for i, r := range regs {
			rows = append(rows, Row{Address: start + uint16(i), Raw: hex16(r), Value: hex16(r)})
		}
	case "float32":
		if len(regs)%2 != 0 {
			return nil, fmt.Errorf("float32 needs an even register count, got %d", len(regs))
		}
		for i := 0; i < len(regs); i += 2 {
			f, err := modbus.RegistersToFloat(regs[i:i+2], order)
			if err != nil {
				return nil, err
			}
			rows = append(rows, Row{
				Address: start + uint16(i),
				Raw:     hex16(regs[i]) + " " + hex16(regs[i+1]),
				Value:   f,
			})
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return rows, nil
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04X", v)
}

func writeRows(w io.Writer, format, title string, rows []Row) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "csv":
		cw := csv.NewWriter(w)
		cw.Write([]string{"address", "raw", "value"})
		for _, r := range rows {
			cw.Write([]string{strconv.Itoa(int(r.Address)), r.Raw, fmt.Sprint(r.Value)})
		}
		cw.Flush()
		return cw.Error()
	case "table", "":
		if title != "" {
			fmt.Fprintln(w, title)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tRAW\tVALUE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%v\n", r.Address, r.Raw, r.Value)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
