package command

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"netfixture/internal/status"
)

var (
	statusURL    string
	statusSecret string
)

var statusCmd = &cobra.Command{
	Use:   "status [health|stats|exchanges]",
	Short: "Read a fixture's status API",
	Long: `Fetch one status API route and print the JSON body. When --secret is set a
short-lived bearer token is signed with it, matching STATUS_JWT_SECRET on the
fixture.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"health", "stats", "exchanges"},
	RunE: func(cmd *cobra.Command, args []string) error {
		route := "stats"
		if len(args) == 1 {
			route = args[0]
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
			strings.TrimRight(statusURL, "/")+"/"+route, nil)
		if err != nil {
			return err
		}
		if statusSecret != "" {
			token, err := status.IssueToken(statusSecret, "fixture-probe", time.Minute)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		client := &http.Client{Timeout: wait}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("status API: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		cmd.Println(string(body))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8090", "status API base URL")
	statusCmd.Flags().StringVar(&statusSecret, "secret", "", "STATUS_JWT_SECRET of the fixture")
	rootCmd.AddCommand(statusCmd)
}
