package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/services"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagegraph",
	Short: "Incremental module compiler and page router",
	Long: `pagegraph compiles a site's page modules and everything they import into
content-hashed artifacts, keeps the hashes consistent as files change, and
resolves request paths to the stack of modules that renders them.

Quick Start:
  pagegraph init                  Write a starter project
  pagegraph build                 Compile every page
  pagegraph watch                 Rebuild incrementally on change
  pagegraph routes                List the route tree
  pagegraph render /about         Render one location

Command Aliases:
  init (i), build (b), watch (w), routes (r)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pagegraph.yml, can also use PAGEGRAPH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("root", ".", "project root")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig points viper at the config file and binds the global flags.
//
// Config file priority (highest to lowest):
//  1. --config flag
//  2. PAGEGRAPH_CONFIG_FILE environment variable
//  3. .pagegraph.yml in the project root
func initConfig() {
	flags := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("project.root", flags.Lookup("root"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PAGEGRAPH_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		root, _ := flags.GetString("root")
		viper.AddConfigPath(root)
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(services.ConfigFileName, ".yml"))
	}

	viper.SetEnvPrefix("PAGEGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing or unreadable file falls back to defaults.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, SubtitleStyle.Render("Using config file: "+viper.ConfigFileUsed()))
	}
}

// loadProject reads the configuration and creates the project. Logs go to
// the command's error stream.
func loadProject(cmd *cobra.Command) (*services.Project, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	return services.NewProject(cfg, services.ProjectOptions{Logger: logger})
}
