package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lioarce01/prompt-version-hub/pkg/client"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "phctl",
	Short: "Manage prompts, deployments and experiments on a prompt version hub",
	Long: `phctl talks to a running prompt version hub over HTTP.

Settings come from flags, PHCTL_* environment variables or ~/.phctl.yaml:

  server: http://localhost:8000
  token: <access token>
  api_key: <api key>
  output: yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.phctl.yaml)")
	flags.String("server", "http://localhost:8000", "server URL")
	flags.String("token", "", "bearer access token")
	flags.String("api-key", "", "API key, used instead of the token when set")
	flags.StringP("output", "o", "yaml", "output format: yaml or json")

	viper.BindPFlag("server", flags.Lookup("server"))
	viper.BindPFlag("token", flags.Lookup("token"))
	viper.BindPFlag("api_key", flags.Lookup("api-key"))
	viper.BindPFlag("output", flags.Lookup("output"))

	rootCmd.AddCommand(loginCmd, promptsCmd, deployCmd, deploymentsCmd, experimentsCmd, testsCmd, usageCmd, summaryCmd)
}

func initConfig() error {
	viper.SetEnvPrefix("PHCTL")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".phctl")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newClient() *client.Client {
	opts := []client.Option{client.WithToken(viper.GetString("token"))}
	if key := viper.GetString("api_key"); key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(viper.GetString("server"), opts...)
}

// saveToken writes the token into the config file so later commands reuse it.
func saveToken(token string) (string, error) {
	viper.Set("token", token)
	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		path = filepath.Join(home, ".phctl.yaml")
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
