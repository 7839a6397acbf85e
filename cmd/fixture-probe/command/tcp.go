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

var tcpPort int

var tcpCmd = &cobra.Command{
	Use:   "tcp <command> [text]",
	Short: "Send one command to the TCP fixture",
	Long: `Open a connection to the TCP fixture, send <command> followed by [text] and
print the replies until the fixture closes the connection or --wait passes.

For reply_bound_port the reply is compared with the local port in use.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := command.Kind(args[0])
		payload, err := probe.BuildPayload(kind, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		addr := net.JoinHostPort(host, strconv.Itoa(tcpPort))
		cmd.Printf("-> %s %q\n", addr, payload)

		localPort, replies, err := probe.TCP(cmd.Context(), addr, payload, wait)
		for i, r := range replies {
			printReply(cmd, i, r.From, r.Payload, r.At)
		}
		if err != nil {
			return err
		}

		if kind == command.ReplyBoundPort && len(replies) > 0 {
			got := string(replies[0].Payload)
			if got != strconv.Itoa(localPort) {
				return fmt.Errorf("fixture reported port %s, local port is %d", got, localPort)
			}
			cmd.Printf("source port matches: %d\n", localPort)
		}
		return nil
	},
}

func init() {
	tcpCmd.Flags().IntVar(&tcpPort, "port", 50000, "TCP fixture port")
	rootCmd.AddCommand(tcpCmd)
}
