package cmd

import (
	"context"

	"github.com/mhristof/upgrader/build"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Prepare a project to be served to update clients",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := cmd.Flags().GetString("path")
		if err != nil {
			panic(err)
		}

		if path == "" {
			path = pwd
		}

		noEnv, err := cmd.Flags().GetBool("no-env")
		if err != nil {
			panic(err)
		}

		noHidden, err := cmd.Flags().GetBool("no-hidden")
		if err != nil {
			panic(err)
		}

		patterns, err := cmd.Flags().GetStringSlice("pattern")
		if err != nil {
			panic(err)
		}

		excludes, err := cmd.Flags().GetStringSlice("exclude")
		if err != nil {
			panic(err)
		}

		builder := build.Builder{
			ProjectPath:     path,
			ExcludeEnvs:     noEnv,
			ExcludeHidden:   noHidden,
			ExcludePatterns: patterns,
			ExcludePaths:    excludes,
		}

		if dryrun {
			log.WithFields(log.Fields{
				"builder": builder,
			}).Info("would build project")

			return
		}

		if err := builder.Build(context.Background()); err != nil {
			log.WithFields(log.Fields{
				"err":  err,
				"path": path,
			}).Fatal("cannot build project")
		}
	},
}

func init() {
	buildCmd.Flags().StringP("path", "p", "", "Project to build, defaults to the working directory")
	buildCmd.Flags().Bool("no-env", false, "Exclude virtual environment folders")
	buildCmd.Flags().Bool("no-hidden", false, "Exclude hidden files and folders")
	buildCmd.Flags().StringSlice("pattern", []string{}, "Regular expression of project paths to skip, repeatable")
	buildCmd.Flags().StringSliceP("exclude", "e", []string{}, "Path to skip, repeatable")

	rootCmd.AddCommand(buildCmd)
}
