package command

// root.go defines the root command and the flags shared by every
// subcommand.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	host string        // fixture host
	wait time.Duration // idle time before a probe stops reading
)

var rootCmd = &cobra.Command{
	Use:   "fixture-probe",
	Short: "fixture-probe - drive the TCP/UDP command fixtures by hand",
	Long: `fixture-probe plays the device side of a fixture run. It sends one command
to the TCP or UDP fixture and prints every reply, and it can run the echo
service the #TRIGGER_TCP_CLIENT: command connects back to.

Commands understood by the fixtures:
  tcp: reply_bound_port, echo_until_closed, trigger_tcp_client, default
  udp: reply5, reply_diff_port, echo, default`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "::1", "fixture host")
	rootCmd.PersistentFlags().DurationVar(&wait, "wait", 2*time.Second, "stop reading after this long without data")
}

// printReply writes one reply the way every subcommand shows it.
func printReply(cmd *cobra.Command, i int, from string, payload []byte, at time.Time) {
	cmd.Printf("#%d %s %s %d bytes: %q\n", i+1, at.Format("15:04:05.000"), from, len(payload), payload)
}
