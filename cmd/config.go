package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/mhristof/upgrader/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config [PROJECT]",
	Short: "Print the project config",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := filepath.Join(project(args, 0), config.Dir, config.File)

		cfg, err := config.Load(path)
		if err != nil {
			log.WithFields(log.Fields{
				"err":  err,
				"path": path,
			}).Fatal("cannot load config")
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			panic(err)
		}

		fmt.Print(string(data))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
