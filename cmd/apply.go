package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mhristof/upgrader/bash"
	"github.com/mhristof/upgrader/changes"
	"github.com/mhristof/upgrader/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var applyCmd = &cobra.Command{
	Use:    "apply",
	Short:  "Apply a prepared update once its lock file is gone",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		actionsPath, err := cmd.Flags().GetString("actions")
		if err != nil {
			panic(err)
		}

		lock, err := cmd.Flags().GetString("lock")
		if err != nil {
			panic(err)
		}

		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			panic(err)
		}

		actions, err := changes.Load(actionsPath)
		if err != nil {
			log.WithField("err", err).Fatal("cannot load actions")
		}

		logToFile(filepath.Join(actions.ProjectPath, config.Dir, "logs", "update.log"))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if timeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if lock != "" {
			if err := changes.WaitForUnlock(ctx, lock); err != nil {
				log.WithFields(log.Fields{
					"err":  err,
					"lock": lock,
				}).Fatal("gave up waiting for the lock")
			}
		}

		if err := actions.Apply(dryrun); err != nil {
			log.WithFields(log.Fields{
				"err":     err,
				"actions": actionsPath,
			}).Fatal("cannot apply update")
		}

		if actions.StartupPath == "" {
			log.Info("update applied")

			return
		}

		if _, err := bash.Start(actions.StartupPath, nil, dryrun); err != nil {
			log.WithFields(log.Fields{
				"err":     err,
				"startup": actions.StartupPath,
			}).Fatal("cannot start application")
		}
	},
}

// logToFile keeps logging to stderr and also appends to a rotated file.
func logToFile(path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"path": path,
		}).Warn("cannot create log folder")

		return
	}

	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
	}))
}

func init() {
	applyCmd.Flags().String("actions", "", "Actions file written by 'update --prepare-only'")
	applyCmd.Flags().String("lock", "", "Wait for this file to be removed before applying")
	applyCmd.Flags().Duration("timeout", 0, "Give up waiting for the lock after this long, 0 waits forever")

	if err := applyCmd.MarkFlagRequired("actions"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(applyCmd)
}
