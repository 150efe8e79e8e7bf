package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/adrg/xdg"
	"github.com/mhristof/upgrader/lint"
	"github.com/mhristof/upgrader/update"
	"github.com/mhristof/upgrader/web"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version  = "devel"
	pwd      string
	dryrun   bool
	useCache bool
)

var rootCmd = &cobra.Command{
	Use:   "upgrader",
	Short: "Build, check and apply project updates",
	Long: heredoc.Doc(`
		Keep a local copy of a project in sync with a published one.

		A project is published by running 'upgrader build' on it and serving
		the folder over http(s) or from s3. Clients point 'upgrader check'
		and 'upgrader update' to the published .upgrader folder.
	`),
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		Verbose(cmd)
		cwd, err := cmd.Flags().GetString("cwd")
		if err != nil {
			panic(err)
		}
		pwd = cwd

		dryrun, err = cmd.Flags().GetBool("dryrun")
		if err != nil {
			panic(err)
		}

		useCache, err = cmd.Flags().GetBool("cache")
		if err != nil {
			panic(err)
		}
	},
}

// Verbose Increase verbosity.
func Verbose(cmd *cobra.Command) {
	verbose, err := cmd.Flags().GetCount("verbose")
	if err != nil {
		panic(err)
	}

	level := log.DebugLevel

	switch verbose {
	case 0:
		level = log.InfoLevel
	case 1:
		level = log.DebugLevel
	case 2:
		level = log.TraceLevel
	}

	log.SetLevel(level)
}

// managerOptions builds the update.Manager options shared by the commands
// that talk to a remote.
func managerOptions() []update.Option {
	return []update.Option{
		update.WithDryrun(dryrun),
		update.WithWebOptions(
			web.WithMaxElapsed(viper.GetDuration("download.max_elapsed")),
			web.WithProfile(viper.GetString("aws.profile")),
		),
	}
}

// project returns args[i] when given, the working directory otherwise.
func project(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}

	return pwd
}

func init() {
	pwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase verbosity")
	rootCmd.PersistentFlags().BoolP("dryrun", "n", false, "Dry run")
	rootCmd.PersistentFlags().StringP("cwd", "C", pwd, "Run from that directory")
	rootCmd.PersistentFlags().BoolP("cache", "c", true, "Enable cache")
	rootCmd.PersistentFlags().String("profile", "", "AWS profile used for s3:// urls")

	setDefaults(viper.GetViper())

	viper.SetConfigName("upgrader") // name of config file (without extension)
	viper.SetConfigType("yaml")     // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(xdg.ConfigHome)
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		path := filepath.Join(xdg.ConfigHome, "upgrader.yaml")
		if err := writeDefaultConfig(path); err == nil {
			log.WithField("path", path).Debug("generated default config")
		}
	}

	if err := viper.BindPFlag("aws.profile", rootCmd.PersistentFlags().Lookup("profile")); err != nil {
		panic(err)
	}

	if err := viper.BindEnv("github.token", "GITHUB_TOKEN"); err != nil {
		panic(err)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.ttl", time.Hour.String())
	v.SetDefault("download.max_elapsed", web.DefaultMaxElapsed.String())
	v.SetDefault("lint.branches", lint.DefaultBranches)
	v.SetDefault("lint.include", lint.DefaultInclude)
	v.SetDefault("lint.markers", lint.DefaultMarkers)
}

// writeDefaultConfig writes the defaults only, never values coming from
// flags or the environment. It fails if path exists.
func writeDefaultConfig(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	return v.SafeWriteConfigAs(path)
}

// Execute The main function for the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
