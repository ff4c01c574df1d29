package main

import (
	"fmt"
	"time"

	"github.com/ev3dev/ev3link/discovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var devicesWait time.Duration

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List configured devices and whether they answer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eps := settings.Endpoints()
		if len(eps) == 0 {
			fmt.Println(infoStyle.Render("No devices configured."))

			return nil
		}

		feed := discovery.NewProbeFeed(eps,
			discovery.WithProbeTimeout(devicesWait),
			discovery.WithLogger(logrus.StandardLogger()),
		)
		defer func() { _ = feed.Close() }()

		online := make(map[string]bool, len(eps))
		deadline := time.After(devicesWait + 500*time.Millisecond)

	collect:
		for {
			select {
			case ev := <-feed.Events():
				if ev.Type == discovery.EventAdded {
					online[ev.Endpoint.ID] = true
				}
			case <-deadline:
				break collect
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}

		fmt.Println(titleStyle.Render("Devices"))

		for _, ep := range eps {
			status := offlineStyle.Render("offline")
			if online[ep.ID] {
				status = onlineStyle.Render("online ")
			}

			fmt.Printf("  %s  %-20s %s@%s\n", status, ep.String(), ep.User, ep.Address())
		}

		return nil
	},
}

func init() {
	devicesCmd.Flags().DurationVar(&devicesWait, "wait", discovery.DefaultProbeTimeout, "How long to wait for each device to answer")
}
