package main

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/api"
)

var statusAddr string

func newServeCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "serve",
		Short: "Run the database with its status HTTP API until interrupted",
		Run:   runServeCommandFunc,
	}
	m.Flags().StringVar(&statusAddr, "status-addr", "", "Status API address, overrides the config file")
	return m
}

func runServeCommandFunc(cmd *cobra.Command, args []string) {
	d := openDB()
	addr := d.Config().StatusAddr
	if statusAddr != "" {
		addr = statusAddr
	}

	svr := api.NewServer(addr, d)
	if err := svr.Start(); err != nil {
		fatalf("start status server: %v", err)
	}

	<-globalContext.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svr.Close(ctx); err != nil {
		log.Warn("status server shutdown", zap.Error(err))
	}
	log.Info("server stopped", zap.Uint64("version", d.Version()))
}
