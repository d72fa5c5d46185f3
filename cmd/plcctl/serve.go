package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/plclink/modbustest"
)

var (
	serveListen  string
	serveSize    int
	serveMaxConn int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory Modbus TCP simulator",
	Long: `Run an in-memory Modbus TCP server implementing function codes 1-6, 15
and 16. Every table starts zeroed.`,
	Example: `  plcctl serve --listen :5020 --size 1000`,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":5020", "Listen address")
	serveCmd.Flags().IntVar(&serveSize, "size", 65536, "Entries per table")
	serveCmd.Flags().IntVar(&serveMaxConn, "max-connections", 16, "Maximum concurrent connections")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := modbustest.NewServer(modbustest.NewMemory(serveSize),
		modbustest.WithLogger(logger),
		modbustest.WithMaxConnections(serveMaxConn),
	)
	return srv.ListenAndServe(ctx, serveListen)
}
