package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// NewPublishCommand constructs the `publish` command: broadcast a payload to
// every subscriber of a channel through the HTTP API.
func NewPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Broadcast a payload to a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			data, _ := cmd.Flags().GetString("data")
			if channel == "" {
				return fmt.Errorf("--channel is required")
			}
			var payload any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					// Not JSON; send as a plain string.
					payload = data
				}
			}
			resp, err := postJSON(http.DefaultClient, baseURL()+"/v1/broadcast", map[string]any{
				"channel": channel,
				"payload": payload,
			})
			if err != nil {
				return err
			}
			drain(resp)
			if err := statusError(resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status)
			return nil
		},
	}
	publishCmd.Flags().StringP("channel", "c", "", "Channel name")
	publishCmd.Flags().StringP("data", "d", "", "Payload (JSON or plain string)")
	return publishCmd
}
