package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mhristof/upgrader/cache"
	"github.com/mhristof/upgrader/config"
	"github.com/mhristof/upgrader/update"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var checkCmd = &cobra.Command{
	Use:   "check URL [PROJECT]",
	Short: "Check if a newer version is published",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			panic(err)
		}

		result, err := check(context.Background(), args[0], project(args, 1))
		if err != nil {
			log.WithFields(log.Fields{
				"err": err,
				"url": args[0],
			}).Fatal("cannot check for update")
		}

		if asJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				panic(err)
			}

			fmt.Println(string(data))

			return
		}

		if !result.HasUpdate {
			fmt.Printf("up to date: %s (remote %s)\n", result.LocalVersion, result.WebVersion)

			return
		}

		fmt.Printf("update available: %s -> %s\n%s\n", result.LocalVersion, result.WebVersion, result.Description)
	},
}

func check(ctx context.Context, url, projectPath string) (*update.Result, error) {
	key := checkKey(url, projectPath)

	var result update.Result

	if useCache {
		err := cache.Load(key, viper.GetDuration("cache.ttl"), &result)
		if err == nil {
			log.WithField("key", key).Debug("using cached result")

			return &result, nil
		}

		if !errors.Is(err, cache.ErrMiss) {
			log.WithField("err", err).Warn("ignoring unreadable cache")
		}
	}

	m, err := update.New(ctx, url, projectPath, managerOptions()...)
	if err != nil {
		return nil, err
	}

	fresh, err := m.CheckUpdate(ctx)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := cache.Write(key, fresh); err != nil {
			log.WithField("err", err).Warn("cannot cache result")
		}
	}

	return fresh, nil
}

// checkKey is the cache key of a check result. update drops it.
func checkKey(url, projectPath string) string {
	return config.Normalize(url) + "|" + config.Normalize(projectPath)
}

func init() {
	checkCmd.Flags().Bool("json", false, "Print the result as json")

	rootCmd.AddCommand(checkCmd)
}
