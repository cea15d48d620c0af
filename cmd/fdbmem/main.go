package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/config"
	"github.com/fdbmem/fdbmem/kv/db"
)

var (
	configFile string
	logLevel   string

	globalContext context.Context
	globalCancel  context.CancelFunc

	globalDB *db.DB
)

// openDB loads the configuration, sets up logging and opens the database.
func openDB() *db.DB {
	conf := config.NewDefaultConfig()
	if configFile != "" {
		var err error
		if conf, err = config.Load(configFile); err != nil {
			fatalf("load config %s: %v", configFile, err)
		}
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	if err := conf.SetupLogger(); err != nil {
		fatalf("setup logger: %v", err)
	}
	log.Debug("config loaded", zap.Stringer("config", conf))

	d, err := db.Open(conf)
	if err != nil {
		fatalf("open database: %v", err)
	}
	globalDB = d
	return d
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()

		select {
		case <-sc:
			fmt.Printf("\nGot signal [%v] again to exit.\n", sig)
			os.Exit(1)
		case <-time.After(10 * time.Second):
			fmt.Print("\nWait 10s for closed, force exit\n")
			os.Exit(1)
		case <-closeDone:
			return
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "fdbmem",
		Short: "In-memory transactional key-value store",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file, TOML or YAML")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "Log level, overrides the config file")

	rootCmd.AddCommand(
		newServeCommand(),
		newShellCommand(),
		newBenchCommand(),
		newVersionCommand(),
	)

	cobra.EnablePrefixMatching = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
	}

	globalCancel()
	if globalDB != nil {
		globalDB.Close()
	}
	log.Sync()

	closeDone <- struct{}{}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client API version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fdbmem api version %s\n", db.APIVersion)
		},
	}
}
