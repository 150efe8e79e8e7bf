package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mhristof/upgrader/cache"
	"github.com/mhristof/upgrader/update"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update URL [PROJECT]",
	Short: "Download the published version and apply it",
	Long: `Downloads the changed files and starts the applier in the background.
The applier waits until the printed lock file is removed, so the running
application can shut down first. Pass --yes to apply straight away.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			panic(err)
		}

		prepareOnly, err := cmd.Flags().GetBool("prepare-only")
		if err != nil {
			panic(err)
		}

		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			panic(err)
		}

		ctx := context.Background()

		m, err := update.New(ctx, args[0], project(args, 1), managerOptions()...)
		if err != nil {
			log.WithFields(log.Fields{
				"err": err,
				"url": args[0],
			}).Fatal("cannot create update manager")
		}

		if prepareOnly {
			actions, err := m.PrepareUpdate(ctx, dir)
			exitOnNoUpdate(err)

			fmt.Println(actions)

			return
		}

		if dir != "" {
			log.WithField("dir", dir).Warn("--dir is only used with --prepare-only")
		}

		lock, err := m.Update(ctx)
		exitOnNoUpdate(err)

		if err := cache.Delete(checkKey(m.URL(), m.ProjectPath())); err != nil {
			log.WithField("err", err).Warn("cannot drop cached check result")
		}

		if yes {
			if err := os.Remove(lock); err != nil {
				log.WithFields(log.Fields{
					"err":  err,
					"lock": lock,
				}).Fatal("cannot remove lock file")
			}

			log.WithField("lock", lock).Info("released lock, applying update")

			return
		}

		fmt.Println(lock)
	},
}

func exitOnNoUpdate(err error) {
	if err == nil {
		return
	}

	if errors.Is(err, update.ErrNoUpdate) {
		log.Info("nothing to update")
		os.Exit(0)
	}

	log.WithField("err", err).Fatal("cannot update")
}

func init() {
	updateCmd.Flags().String("dir", "", "Folder that already holds the downloaded files")
	updateCmd.Flags().Bool("prepare-only", false, "Only write the actions file and print its path")
	updateCmd.Flags().BoolP("yes", "y", false, "Remove the lock file right away")

	rootCmd.AddCommand(updateCmd)
}
