package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zdtools/zdexport/pkg/cache"
	"github.com/zdtools/zdexport/pkg/config"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis page cache",
	}

	var account string
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove every cached page of the account",
		Long: `Remove every cached page of the account from Redis so the next export
fetches fresh data. Quota state is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if account == "" {
				account = a.cfg.Helpdesk.Account()
			}
			if account == "" {
				return validationError(errors.New("no account: set --account, " +
					config.EnvSubdomain + " or " + config.EnvBaseURL))
			}

			rdb, err := a.connectRedis(cmd.Context())
			if err != nil {
				return err
			}
			if rdb == nil {
				return validationError(errors.New("redis is not configured (set " + config.EnvRedisURL + ")"))
			}

			n, err := cache.NewManager(rdb, a.cfg.Redis.CacheTTL).Purge(cmd.Context(), account)
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			a.logger.Info().Str("account", account).Int("keys", n).Msg("Cache purged")
			fmt.Fprintf(a.stdout, "purged %d cached pages for %s\n", n, account)
			return nil
		},
	}
	purge.Flags().StringVar(&account, "account", "", "account to purge (default: the configured one)")

	cmd.AddCommand(purge)
	return cmd
}
