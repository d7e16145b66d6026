package run

import (
	"github.com/spf13/cobra"

	"github.com/opusrelay/qvox/config"
	"github.com/opusrelay/qvox/tools"
)

var (
	configFile = tools.GetenvDefault(config.EnvPrefix+"_CONFIG", "")
	Cmd        = &cobra.Command{
		Use:   "run",
		Short: "Run the relay server or a debug client",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path of config file (falls back to RTC_SERVER_* env vars if empty or missing)")
	Cmd.AddCommand(serverCmd)
	Cmd.AddCommand(clientCmd)
}
