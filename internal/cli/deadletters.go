package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"StoryRisk/pkg/cache"
	"StoryRisk/pkg/queue"
)

// DeadLettersCmd lists estimation requests that exhausted their retries.
func DeadLettersCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List estimation requests the request queue gave up on",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("dead-letters needs redis.enabled")
			}
			rc, err := cache.NewRedisCache(
				cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
				cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			)
			if err != nil {
				return err
			}
			defer rc.Close()

			q := queue.NewRedisQueue(nil, queue.Config{KeyPrefix: cfg.Queue.KeyPrefix}, rc.Client())
			msgs, err := q.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("no dead letters"))
				return nil
			}
			printDeadLetters(cmd, msgs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of messages to show")
	return cmd
}

func printDeadLetters(cmd *cobra.Command, msgs []queue.Message) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.Type, m.Attempts, m.EnqueuedAt.Format(time.RFC3339), color.RedString(m.LastError))
	}
	_ = tw.Flush()
}
