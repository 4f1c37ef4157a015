package command

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"p2pmsg/cmd/p2pmsg/command/client"
)

// peersCmd groups the commands that talk to a running node's admin API
var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Inspect and drive the peers of a running node",
	Long: `Talk to the admin API of a running node (started with --admin-port).

Peer addresses are the ip:port shown by "p2pmsg peers list".`,
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := client.NewAdminClient(adminURL).ListPeers()
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			color.HiBlack("no peers connected")
			return nil
		}
		for _, p := range peers {
			direction := "outbound"
			if p.Inbound {
				direction = "inbound"
			}
			fmt.Printf("%s  %-8s  %s  connected %s ago, %d frames sent\n",
				color.CyanString("%-21s", p.Address),
				direction,
				p.ConnID,
				time.Since(p.ConnectedAt).Round(time.Second),
				p.FramesSent,
			)
		}
		return nil
	},
}

var peersPingCmd = &cobra.Command{
	Use:   "ping <ip:port>",
	Short: "Send a Ping to a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewAdminClient(adminURL).Ping(args[0]); err != nil {
			return err
		}
		color.Green("ping sent to %s", args[0])
		return nil
	},
}

var peersTerminateCmd = &cobra.Command{
	Use:   "terminate <ip:port>",
	Short: "Gracefully close the connection to a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewAdminClient(adminURL).Terminate(args[0]); err != nil {
			return err
		}
		color.Yellow("connection to %s terminated", args[0])
		return nil
	},
}

var peersDialCmd = &cobra.Command{
	Use:   "dial <host:port>",
	Short: "Connect the node to a new peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewAdminClient(adminURL).Dial(args[0]); err != nil {
			return err
		}
		color.Green("dialing %s", args[0])
		return nil
	},
}

var peersDirectoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Show the peer records kept in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := client.NewAdminClient(adminURL).ListDirectory()
		if err != nil {
			return err
		}
		for _, r := range records {
			status := color.GreenString(r.Status)
			if r.Status != "connected" {
				status = color.HiBlackString(r.Status)
			}
			fmt.Printf("%-21s  %-8s  %-12s  last seen %s\n",
				r.Address, r.Direction, status, r.LastSeen.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	peersCmd.AddCommand(peersListCmd, peersPingCmd, peersTerminateCmd, peersDialCmd, peersDirectoryCmd)
	rootCmd.AddCommand(peersCmd)
}
