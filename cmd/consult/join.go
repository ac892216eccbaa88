package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mossy-p/consult-signaling/config"
	"github.com/mossy-p/consult-signaling/internal/call"
	"github.com/mossy-p/consult-signaling/internal/transport"
	"github.com/mossy-p/consult-signaling/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagAttempts  int
	flagThreshold int
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a consultation room",
	Long: `Join a room as a peer. Lines typed on stdin are sent as chat messages.

Commands:
  /mute    toggle the microphone
  /video   toggle the camera
  /leave   leave the room`,
	Args: cobra.ExactArgs(1),
}

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle: joinRoom -> clientConfig -> joinCmd.
	joinCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	}
	joinCmd.Flags().IntVar(&flagAttempts, "reconnect-attempts", 0, "Reconnection attempts before giving up")
	joinCmd.Flags().IntVar(&flagThreshold, "speaker-threshold", 0, "Minimum loudness (0-255) for the active speaker")
}

func clientConfig() (*config.ClientConfig, error) {
	// 0 is a valid noise floor, so only an explicit flag overrides the env.
	var threshold *int
	if joinCmd.Flags().Changed("speaker-threshold") {
		threshold = &flagThreshold
	}

	return config.LoadClient(config.ClientOptions{
		ServerURL:         flagServer,
		APIURL:            flagAPI,
		STUNServers:       flagSTUN,
		TURNServers:       flagTURN,
		TURNUser:          flagTURNUser,
		TURNPass:          flagTURNPass,
		ReconnectAttempts: flagAttempts,
		SpeakerThreshold:  threshold,
	})
}

func joinRoom(parent context.Context, roomID string) error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}

	c, err := call.New(call.Options{Config: cfg, RoomID: roomID})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	go readCommands(c)

	ui.PrintInfo("Connecting to " + cfg.ServerURL)
	for {
		select {
		case n := <-c.Notices():
			printNotice(c, roomID, n)
		case err := <-done:
			if errors.Is(err, call.ErrDeviceAcquisition) {
				return fmt.Errorf("%w, check your devices", err)
			}
			if errors.Is(err, transport.ErrGaveUp) {
				return errors.New("connection lost, please refresh")
			}
			ui.PrintSuccess("Left the room")
			return err
		}
	}
}

func readCommands(c *call.Call) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/leave":
			c.Leave()
			return
		case "/mute":
			if on, err := c.ToggleAudio(); err == nil {
				ui.PrintInfo(fmt.Sprintf("Microphone %s", onOff(on)))
			}
		case "/video":
			if on, err := c.ToggleVideo(); err == nil {
				ui.PrintInfo(fmt.Sprintf("Camera %s", onOff(on)))
			}
		default:
			if err := c.SendChat(line); err != nil {
				ui.PrintWarning("Message not sent: " + err.Error())
			}
		}
	}
}

func printNotice(c *call.Call, roomID string, n call.Notice) {
	switch n.Kind {
	case call.NoticeStatus:
		switch n.Status {
		case transport.StatusConnected:
			ui.PrintSuccess("Connected")
		case transport.StatusReconnecting:
			ui.PrintWarning("Connection lost, reconnecting...")
		case transport.StatusDisconnected:
			ui.PrintError("Disconnected")
		}
	case call.NoticeRole:
		fmt.Println(ui.RoomBox(roomID, c.LocalID(), n.Role))
	case call.NoticeRoster:
		ui.PrintInfo(fmt.Sprintf("%d participant(s) connected", len(n.Roster)+1))
	case call.NoticePeerLeft:
		ui.PrintInfo(ui.ShortID(n.Peer) + " left the call")
	case call.NoticeChat:
		fmt.Println(ui.ChatLine(n.Chat))
	case call.NoticeSpeaker:
		if n.Peer != "" {
			ui.PrintInfo(ui.ShortID(n.Peer) + " is speaking")
		}
	case call.NoticeVideo:
		ui.PrintInfo(fmt.Sprintf("%s camera %s", ui.ShortID(n.Peer), onOff(n.Enabled)))
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
