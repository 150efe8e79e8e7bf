package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mhristof/upgrader/bash"
	"github.com/mhristof/upgrader/lint"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Report leftover DEBUG, TODO and FIXME comments on a pull request",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := cmd.Flags().GetString("root")
		if err != nil {
			panic(err)
		}

		if root == "" {
			root = pwd
		}

		post, err := cmd.Flags().GetBool("post")
		if err != nil {
			panic(err)
		}

		repo, err := cmd.Flags().GetString("repo")
		if err != nil {
			panic(err)
		}

		number, err := cmd.Flags().GetInt("pr")
		if err != nil {
			panic(err)
		}

		base, err := cmd.Flags().GetString("base")
		if err != nil {
			panic(err)
		}

		if path := os.Getenv("GITHUB_EVENT_PATH"); path != "" {
			event, err := lint.ReadEvent(path)
			if err != nil {
				log.WithField("err", err).Debug("ignoring event payload")
			} else {
				if number == 0 {
					number = event.Number
				}

				if base == "" {
					base = event.Base
				}

				if repo == "" && event.Owner != "" {
					repo = event.Owner + "/" + event.Repo
				}
			}
		}

		if base == "" {
			base = os.Getenv("GITHUB_BASE_REF")
		}

		if base != "" && !lint.ShouldRun(base, viper.GetStringSlice("lint.branches")) {
			log.WithField("base", base).Info("skipping, base branch is not checked")

			return
		}

		matches, err := lint.Scan(root, viper.GetStringSlice("lint.include"), viper.GetStringSlice("lint.markers"))
		if err != nil {
			log.WithFields(log.Fields{
				"err":  err,
				"root": root,
			}).Fatal("cannot scan")
		}

		body := lint.Body(matches)
		if body != "" {
			fmt.Println(body)
		}

		if !post || body == "" {
			return
		}

		if repo == "" {
			repo = os.Getenv("GITHUB_REPOSITORY")
		}

		if repo == "" {
			repo, err = bash.Exec(fmt.Sprintf("git -C %q remote get-url origin", root), false)
			if err != nil {
				log.WithField("err", err).Fatal("cannot find repository, pass --repo")
			}
		}

		owner, name, err := lint.SplitRepo(repo)
		if err != nil {
			log.WithField("err", err).Fatal("cannot find repository")
		}

		if number == 0 {
			log.Fatal("cannot find pull request number, pass --pr")
		}

		ctx := context.Background()

		commenter := lint.NewCommenter(ctx, viper.GetString("github.token"))
		if dryrun {
			log.WithFields(log.Fields{
				"repo":   repo,
				"number": number,
			}).Info("would post comment")

			return
		}

		if err := commenter.Post(ctx, owner, name, number, body); err != nil {
			log.WithField("err", err).Fatal("cannot post comment")
		}
	},
}

func init() {
	lintCmd.Flags().String("root", "", "Folder to scan, defaults to the working directory")
	lintCmd.Flags().StringSlice("include", lint.DefaultInclude, "File name globs to scan")
	lintCmd.Flags().StringSlice("marker", lint.DefaultMarkers, "Markers to look for")
	lintCmd.Flags().Bool("post", false, "Post the findings as a pull request comment")
	lintCmd.Flags().String("repo", "", "owner/name, defaults to GITHUB_REPOSITORY or the git origin")
	lintCmd.Flags().Int("pr", 0, "Pull request number, defaults to the one in GITHUB_EVENT_PATH")
	lintCmd.Flags().String("base", "", "Base branch, defaults to the one in GITHUB_EVENT_PATH or GITHUB_BASE_REF")

	if err := viper.BindPFlag("lint.include", lintCmd.Flags().Lookup("include")); err != nil {
		panic(err)
	}

	if err := viper.BindPFlag("lint.markers", lintCmd.Flags().Lookup("marker")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(lintCmd)
}
