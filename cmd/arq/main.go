package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/zigzed/arq/config"
)

func main() {
	defer glog.Flush()

	var (
		cfgPath string
		cfg     *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "arq",
		Short:         "Redis backed task queue",
		Long:          "arq submits tasks into a shared Redis store, runs agents that execute them and reads task status.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	// glog complains unless the go flag set reports parsed; cobra fills it in.
	_ = flag.CommandLine.Parse(nil)

	rootCmd.AddCommand(
		newAgentCmd(func() *config.Config { return cfg }),
		newPutCmd(func() *config.Config { return cfg }),
		newStatusCmd(func() *config.Config { return cfg }),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "arq:", err)
		glog.Flush()
		os.Exit(1)
	}
}
