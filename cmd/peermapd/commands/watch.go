// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peermap/peermap/pkg/client"
	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/locate"
	"github.com/peermap/peermap/pkg/protocol"
	"github.com/peermap/peermap/pkg/pubip"
)

var (
	watchLat      float64
	watchLng      float64
	watchAccuracy float64
	noAddress     bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a peermap server and print peer movements",
	Long: `watch connects to a peermap server, announces the position given by
--lat and --lng, and prints every peer event as it arrives.`,
	RunE: runWatch,
}

func init() {
	RootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("url", "ws://127.0.0.1:3001/ws", "URL of the server's channel endpoint")
	viper.BindPFlag("watch.url", watchCmd.Flags().Lookup("url"))
	watchCmd.Flags().Float64Var(&watchLat, "lat", 0, "Latitude to announce")
	watchCmd.Flags().Float64Var(&watchLng, "lng", 0, "Longitude to announce")
	watchCmd.Flags().Float64Var(&watchAccuracy, "accuracy", 10, "Accuracy radius in meters")
	watchCmd.Flags().BoolVar(&noAddress, "no-address", false, "Skip public address resolution")
}

func runWatch(cmd *cobra.Command, args []string) error {
	watchLog := logrus.New()
	watchLog.Out = os.Stderr
	watchLog.Level = logrus.WarnLevel

	config := client.Config{
		URL: viper.GetString("watch.url"),
		Locator: locate.Static{Location: geo.Location{
			Latitude:  watchLat,
			Longitude: watchLng,
			Accuracy:  watchAccuracy,
		}},
		OnEvent: printEvent,
		Log:     watchLog,
	}
	if !noAddress {
		config.AddressResolver = pubip.NewHTTPResolver()
	}

	c, err := client.New(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printEvent(msg protocol.Message) {
	switch msg := msg.(type) {
	case *protocol.SnapshotMessage:
		fmt.Printf("synced as %s with %d peers\n", msg.Self, len(msg.Sessions))
		for _, s := range msg.Sessions {
			if s.ID == msg.Self {
				continue
			}
			fmt.Printf("  %s at (%.5f, %.5f) ±%.0fm\n", s.ID, s.Location.Latitude, s.Location.Longitude, s.Location.Accuracy)
		}
	case *protocol.AnnouncedMessage:
		s := msg.Session
		fmt.Printf("joined: %s at (%.5f, %.5f) ±%.0fm\n", s.ID, s.Location.Latitude, s.Location.Longitude, s.Location.Accuracy)
	case *protocol.UpdatedMessage:
		fmt.Printf("moved: %s to (%.5f, %.5f)\n", msg.ID, msg.Location.Latitude, msg.Location.Longitude)
	case *protocol.RemovedMessage:
		fmt.Printf("left: %s\n", msg.ID)
	}
}
