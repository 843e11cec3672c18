package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/client"
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/rtc"
)

var callCmd = &cobra.Command{
	Use:   "call peer-id",
	Short: "call a peer",
	Long:  `call starts a call attempt to the given peer and stays in the call until interrupted`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		peerID := args[0]
		cfg, log, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		c, err := client.New(client.Options{Config: cfg, Logger: log})
		if err != nil {
			log.Fatal(err)
			return
		}
		defer c.Close()

		if _, err := c.WaitForID(10 * time.Second); err != nil {
			log.Fatal(err)
			return
		}

		attempt, err := c.Manager.Call(peerID, nil, rtc.Callbacks{
			OnAccepted: func(accepted bool) {
				if accepted {
					log.Infof("Peer %s accepted the call", peerID)
				} else {
					log.Infof("Peer %s did not accept the call", peerID)
				}
			},
			OnReady: func(kind string) {
				log.Infof("Media ready with %s: %s", peerID, kind)
			},
			OnFailure: func(code protocol.ErrorCode, text string) {
				log.Errorf("Call failed (%s): %s", code, text)
			},
		})
		if err != nil {
			log.Fatal(err)
			return
		}

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-attempt.Done():
			res := attempt.Result()
			log.Infof("Call attempt resolved: %s", res.Kind)
			if res.Kind != rtc.ResultAccepted {
				return
			}
		case <-done:
			_ = c.Manager.Hangup(peerID)
			return
		}

		<-done
		if err := c.Manager.Hangup(peerID); err != nil {
			log.Warnf("Hangup failed: %v", err)
		}
		log.Info("exiting...")
	},
}
