package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "climatesync",
	Short: "Home Assistant climate synchronisation client",
	Long: `climatesync keeps a live mirror of every climate entity in a Home Assistant
instance and forwards control commands to it over the websocket API.

Configuration is read from an optional YAML file (--config), then .env files,
then the environment (HA_URL, HA_TOKEN, HA_HOST, HA_PORT, HA_TLS, HA_PATH,
CLIMATESYNC_API_PORT, CLIMATESYNC_MQTT_BROKER).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the environment")
}
