package command

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"netfixture/internal/probe"
)

var (
	echoHost string
	echoPort int
)

var echoCmd = &cobra.Command{
	Use:   "echo7",
	Short: "Run the echo service the trigger command connects to",
	Long: `Listen on --port (7 by default, the echo service) and echo everything
received. Run this on the host the TCP fixture sees as its peer before
sending trigger_tcp_client. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := net.JoinHostPort(echoHost, strconv.Itoa(echoPort))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		cmd.Printf("echo service listening on %s\n", ln.Addr())

		return probe.EchoService(ctx, ln, func(from string, data []byte) {
			cmd.Printf("%s %d bytes: %q\n", from, len(data), data)
		})
	},
}

func init() {
	echoCmd.Flags().StringVar(&echoHost, "listen", "::", "listen address")
	echoCmd.Flags().IntVar(&echoPort, "port", 7, "listen port")
	rootCmd.AddCommand(echoCmd)
}
