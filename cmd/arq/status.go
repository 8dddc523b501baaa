package main

import (
	"fmt"
	"time"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
	"github.com/zigzed/arq"
	"github.com/zigzed/arq/config"
)

func newStatusCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "status", Short: "Read and write out-of-band task status"}

	open := func() (*arq.Client, error) {
		return arq.NewClientFromRedis(cfg().RedisOption(), cfg().Options()...)
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetDuration("refresh")
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			v, ok, err := client.GetStatus(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no status for %s", args[0])
			}
			if b, isBytes := v.([]byte); isBytes {
				v = string(b)
			}
			fmt.Println(v)
			return nil
		},
	}
	getCmd.Flags().Duration("refresh", 0, "reset the status ttl on read")

	setCmd := &cobra.Command{
		Use:   "set <id> <value>",
		Short: "Set the status of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()
			return client.SetStatus(cmd.Context(), args[0], args[1], ttl)
		},
	}
	setCmd.Flags().Duration("ttl", time.Hour, "status ttl, 0 keeps it until deleted")

	delCmd := &cobra.Command{
		Use:   "del <id>",
		Short: "Delete the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()
			return client.DeleteStatus(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(getCmd, setCmd, delCmd)
	return cmd
}
