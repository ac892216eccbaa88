package main

import (
	"os"

	"github.com/mossy-p/consult-signaling/internal/logging"
	"github.com/mossy-p/consult-signaling/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagAPI      string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "consult",
	Short: "Headless client for the consultation signaling server",
	Long: `consult joins a consultation room as a WebRTC peer, or inspects who is in one.

Examples:
  consult join 1234
  consult room 1234
  consult join --server wss://consult.example.com/ws/signal 1234`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if flagVerbose {
			level = "debug"
		}
		logging.Init("development", level)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Signaling websocket URL")
	pf.StringVar(&flagAPI, "api", "", "HTTP API base URL")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Comma separated STUN servers")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Comma separated TURN servers")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug output")

	rootCmd.AddCommand(joinCmd, roomCmd)
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
