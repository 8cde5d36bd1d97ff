package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Sourabh10122002/talkie-server/auth"
	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/globals"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// A very simple CLI tool for the administration of talkie users, groups and channels.

var (
	configPath string
	cfg        *config.Config
	store      persistence.Store
)

// definition reads a JSON definition from the argument, or from STDIN if it is "-".
func definition(arg string, v interface{}) error {
	var r io.Reader
	if arg == "-" {
		r = os.Stdin
	} else {
		r = bytes.NewReader([]byte(arg))
	}
	return json.NewDecoder(r).Decode(v)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func openStore(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.ReadConfiguration(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	store, err = persistence.NewStore(cfg)
	return err
}

func closeStore(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	return store.Close()
}

func main() {
	rootCmd := &cobra.Command{Use: "talkie-admin", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	flagSet := config.GetFlagSet()
	rootCmd.PersistentFlags().AddFlagSet(flagSet)
	rootCmd.SetGlobalNormalizationFunc(flagSet.GetNormalizeFunc())

	storeCmd := func(c *cobra.Command) *cobra.Command {
		c.PersistentPreRunE = openStore
		c.PersistentPostRunE = closeStore
		return c
	}

	cmdSet := storeCmd(&cobra.Command{
		Use:   "set",
		Short: "create/update user, group or channel",
		Long:  `set creates or updates a user, group or channel from a JSON definition. If the definition is "-", it is read from STDIN.`,
	})
	cmdSet.AddCommand(
		&cobra.Command{
			Use:   "user [user definition]",
			Short: "Set user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user := types.Identity{}
				if err := definition(args[0], &user); err != nil {
					return err
				}
				globals.AppLogger.Info("storing user", "id", user.Id)
				return store.StoreUser(cmd.Context(), user)
			},
		},
		&cobra.Command{
			Use:   "group [group definition]",
			Short: "Set group",
			Long:  `set group creates or updates a group. The owner is always a member and an admin of the group.`,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				group := types.Group{}
				if err := definition(args[0], &group); err != nil {
					return err
				}
				if group.OwnerId == "" {
					globals.AppLogger.Warn("no owner set")
				} else if _, err := store.GetUser(cmd.Context(), group.OwnerId); err != nil {
					return fmt.Errorf("could not get owner %s: %w", group.OwnerId, err)
				}
				return store.StoreGroup(cmd.Context(), group)
			},
		},
		&cobra.Command{
			Use:   "channel [channel definition]",
			Short: "Set channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				channel := types.Channel{}
				if err := definition(args[0], &channel); err != nil {
					return err
				}
				if _, err := store.GetGroup(cmd.Context(), channel.GroupId); err != nil {
					return fmt.Errorf("could not get group %s: %w", channel.GroupId, err)
				}
				return store.StoreChannel(cmd.Context(), channel)
			},
		},
	)

	cmdHistory := &cobra.Command{
		Use:   "history [channel id]",
		Short: "Show the latest messages of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			messages, err := store.ChannelHistory(cmd.Context(), args[0], 0, limit)
			if err != nil {
				return err
			}
			return printJSON(messages)
		},
	}
	cmdHistory.Flags().Int("limit", 20, "number of messages")

	cmdShow := storeCmd(&cobra.Command{
		Use:   "show",
		Short: "Show user, group or channel",
	})
	cmdShow.AddCommand(
		&cobra.Command{
			Use:   "user [user id]",
			Short: "Show user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := store.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(user)
			},
		},
		&cobra.Command{
			Use:   "group [group id]",
			Short: "Show group",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				group, err := store.GetGroup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(group)
			},
		},
		&cobra.Command{
			Use:   "channel [channel id]",
			Short: "Show channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				channel, err := store.GetChannel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(channel)
			},
		},
		cmdHistory,
	)

	var ttl time.Duration
	cmdToken := storeCmd(&cobra.Command{
		Use:   "token [user id]",
		Short: "Issue a development credential",
		Long:  `token signs a HS256 token for an existing user with the configured auth.jwt_secret.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.AuthConfig.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			if _, err := store.GetUser(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("could not get user %s: %w", args[0], err)
			}
			token, err := auth.IssueToken([]byte(cfg.AuthConfig.JWTSecret), cfg.AuthConfig.JWTIdClaim, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	})
	cmdToken.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")

	var gatewayUrl string
	cmdPresence := &cobra.Command{
		Use:   "presence",
		Short: "Show the identities currently online at a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayUrl+"/presence", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway answered %s", resp.Status)
			}
			entries := make([]types.PresenceEntry, 0)
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmdPresence.Flags().StringVar(&gatewayUrl, "gateway", "http://localhost:5050", "base URL of the gateway")

	rootCmd.AddCommand(cmdSet, cmdShow, cmdToken, cmdPresence)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
