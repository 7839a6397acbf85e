package command

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"netfixture/internal/command"
	"netfixture/internal/probe"
)

var (
	udpPort    int
	udpAltPort int
)

var udpCmd = &cobra.Command{
	Use:   "udp <command> [text]",
	Short: "Send one command to the UDP fixture",
	Long: `Send a single datagram carrying <command> and [text] to the UDP fixture and
print every datagram that comes back until --wait passes without one.

For reply_diff_port the alternate port is opened as well so the redirected
reply is shown.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := command.Kind(args[0])
		payload, err := probe.BuildPayload(kind, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		var alt *net.UDPConn
		if kind == command.ReplyDiffPort {
			alt, err = net.ListenUDP("udp", &net.UDPAddr{Port: udpAltPort})
			if err != nil {
				return fmt.Errorf("open alternate port %d: %w", udpAltPort, err)
			}
			defer alt.Close()
		}

		addr := net.JoinHostPort(host, strconv.Itoa(udpPort))
		cmd.Printf("-> %s %q\n", addr, payload)

		replies, err := probe.UDP(cmd.Context(), addr, payload, wait, alt)
		for i, r := range replies {
			printReply(cmd, i, r.From, r.Payload, r.At)
		}
		if err != nil {
			return err
		}
		cmd.Printf("%d datagram(s) received\n", len(replies))
		return nil
	},
}

func init() {
	udpCmd.Flags().IntVar(&udpPort, "port", 50001, "UDP fixture port")
	udpCmd.Flags().IntVar(&udpAltPort, "alt-port", 60000, "port reply_diff_port answers on")
	rootCmd.AddCommand(udpCmd)
}
