package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/client"
	"github.com/peerwave/peerwave/internal/protocol"
)

var connectCmd = &cobra.Command{
	Use:   "connect [room ...]",
	Short: "connect to the signaling server and stay online",
	Long:  `connect joins the configured rooms (or the rooms given as arguments), answers incoming calls, and runs until interrupted`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if len(args) > 0 {
			cfg.Rooms = args
		}

		c, err := client.New(client.Options{
			Config: cfg,
			Logger: log,
			OnIncomingCall: func(peerID string, accept func(bool)) {
				log.Infof("Incoming call from %s, accepting", peerID)
				accept(true)
			},
			OnRoomOccupants: func(room string, occupants map[string]protocol.Occupant) {
				log.Infof("Room %s now has %d occupants", room, len(occupants))
			},
			OnPeerMessage: func(peerID string, msgType protocol.MsgType, data json.RawMessage) {
				log.Infof("Message from %s (%s): %s", peerID, msgType, string(data))
			},
			OnRemoteHangup: func(peerID string) {
				log.Infof("Peer %s hung up", peerID)
			},
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		defer c.Close()

		id, err := c.WaitForID(10 * time.Second)
		if err != nil {
			log.Fatal(err)
			return
		}
		log.Infof("Online as %s", id)

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		<-done
		log.Info("exiting...")
	},
}
