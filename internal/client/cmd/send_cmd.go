package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/client"
	"github.com/peerwave/peerwave/internal/rtc"
)

// filePayload is the application message carrying a file over the data
// channel. Data rides as base64 inside the JSON frame.
type filePayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

var sendCmd = &cobra.Command{
	Use:   "send peer-id file-path",
	Short: "send a file to a peer",
	Long:  `send calls the peer, waits for the data channel, and streams the file over it in chunks`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		peerID := args[0]
		filePath := args[1]
		cfg, log, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		payload, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal(err)
			return
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

		ready := make(chan struct{}, 1)
		attempt, err := c.Manager.Call(peerID, nil, rtc.Callbacks{
			OnReady: func(kind string) {
				if kind == "datachannel" {
					ready <- struct{}{}
				}
			},
		})
		if err != nil {
			log.Fatal(err)
			return
		}

		select {
		case <-ready:
		case <-attempt.Done():
			if res := attempt.Result(); res.Kind != rtc.ResultAccepted {
				log.Fatalf("Call to %s resolved %s before the data channel opened", peerID, res.Kind)
				return
			}
			select {
			case <-ready:
			case <-time.After(30 * time.Second):
				log.Fatalf("Timed out waiting for a data channel to %s", peerID)
				return
			}
		case <-time.After(30 * time.Second):
			log.Fatalf("Timed out waiting for a data channel to %s", peerID)
			return
		}

		var bar *progressbar.ProgressBar
		err = c.Manager.SendPeerMessageProgress(peerID, "file", filePayload{
			Name: filepath.Base(filePath),
			Data: payload,
		}, func(sent, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "sending")
			}
			_ = bar.Set(sent)
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		log.Infof("Sent %s (%d bytes) to %s", filepath.Base(filePath), len(payload), peerID)

		if err := c.Manager.Hangup(peerID); err != nil {
			log.Warnf("Hangup failed: %v", err)
		}
	},
}
