package main

import (
	"bytes"
	"context"
	"os/exec"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
	"github.com/zigzed/arq"
	"github.com/zigzed/arq/config"
	"github.com/zigzed/arq/marshaller"
	"github.com/zigzed/arq/task"
)

func newAgentCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run an agent until interrupted",
		Long: "Run an agent. Without --exec every task is answered with its own payload; " +
			"with --exec the payload is piped to the command and its stdout is the reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			command, _ := cmd.Flags().GetString("exec")
			concurrency, _ := cmd.Flags().GetInt("max-concurrency")

			opts := cfg().Options()
			if cmd.Flags().Changed("max-concurrency") {
				opts = append(opts, arq.WithMaxConcurrency(concurrency))
			}

			worker := echoWorker
			if command != "" {
				worker = execWorker(command)
			}

			agent, err := arq.NewAgentFromRedis(cfg().RedisOption(), worker, opts...)
			if err != nil {
				return err
			}
			defer agent.Close()

			err = agent.Run(cmd.Context())
			agent.Wait()
			return err
		},
	}
	cmd.Flags().String("exec", "", "shell command run for every task")
	cmd.Flags().Int("max-concurrency", 0, "tasks executed at once, 0 for unbounded")
	return cmd
}

// plain renders structured payloads as JSON for the command's stdin.
var plain = marshaller.NewJsonMarshaller(nil, false)

func echoWorker(ctx context.Context, t *task.Task) (interface{}, error) {
	return t.Payload, nil
}

func execWorker(command string) arq.WorkerFunc {
	return func(ctx context.Context, t *task.Task) (interface{}, error) {
		in, ok := t.Bytes()
		if !ok {
			buf, err := t.Encode(plain)
			if err != nil {
				return nil, err
			}
			in = buf
		}

		var stdout, stderr bytes.Buffer
		c := exec.CommandContext(ctx, "sh", "-c", command)
		c.Stdin = bytes.NewReader(in)
		c.Stdout = &stdout
		c.Stderr = &stderr
		if err := c.Run(); err != nil {
			return nil, errors.Wrapf(err, "%s: %s", command, bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), nil
	}
}
