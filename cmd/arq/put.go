package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zigzed/arq"
	"github.com/zigzed/arq/config"
	"github.com/zigzed/arq/result"
)

func newPutCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <payload>",
		Short: "Submit a task and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			noWait, _ := cmd.Flags().GetBool("no-wait")

			client, err := arq.NewClientFromRedis(cfg().RedisOption(), cfg().Options()...)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := []arq.PutOption{arq.WithId(id)}
			if !noWait {
				opts = append(opts, arq.WithAutoEnsure())
			}
			t, err := client.Put(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			if noWait {
				fmt.Println(t.Id)
				return nil
			}

			reply, err := client.Result(cmd.Context(), t, timeout)
			if err != nil {
				return err
			}
			if werr := result.AsError(reply); werr != nil {
				return werr
			}
			_, err = os.Stdout.Write(append(reply, '\n'))
			return err
		},
	}
	cmd.Flags().String("id", "", "task id, generated when empty")
	cmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the result, 0 waits forever")
	cmd.Flags().Bool("no-wait", false, "print the task id and exit without waiting")
	return cmd
}
