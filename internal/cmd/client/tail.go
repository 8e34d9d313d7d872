package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewTailCommand constructs the `tail` command: open an SSE stream, subscribe
// to the requested channels, and print each received message as a JSON line.
func NewTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream messages from one or more channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, _ := cmd.Flags().GetStringArray("channel")
			uid, _ := cmd.Flags().GetString("uid")
			ctxPairs, _ := cmd.Flags().GetStringArray("ctx")
			limit, _ := cmd.Flags().GetInt("limit")
			showPings, _ := cmd.Flags().GetBool("pings")
			if len(channels) == 0 {
				return fmt.Errorf("at least one --channel is required")
			}

			q := url.Values{}
			if uid != "" {
				q.Set("uid", uid)
			} else {
				q.Set("autouid", "1")
			}
			sctx := map[string]string{}
			for _, pair := range ctxPairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --ctx %q; expected key=value", pair)
				}
				q.Set(k, v)
				sctx[k] = v
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				baseURL()+"/v1/events?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if err := statusError(resp); err != nil {
				return err
			}
			uid = resp.Header.Get("X-Transmit-UID")

			for _, ch := range channels {
				sresp, err := postJSON(http.DefaultClient, baseURL()+"/v1/subscribe", map[string]any{
					"uid":     uid,
					"channel": ch,
					"context": sctx,
				})
				if err != nil {
					return err
				}
				drain(sresp)
				if sresp.StatusCode >= 300 {
					return fmt.Errorf("subscribe %s: server returned %s", ch, sresp.Status)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				data, ok := strings.CutPrefix(line, "data: ")
				if !ok {
					continue
				}
				var msg struct {
					Channel string          `json:"channel"`
					Payload json.RawMessage `json:"payload"`
				}
				if err := json.Unmarshal([]byte(data), &msg); err != nil {
					continue
				}
				if msg.Channel == "$pings" && !showPings {
					continue
				}
				_ = enc.Encode(msg)
				n++
				if limit > 0 && n >= limit {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	tailCmd.Flags().StringArrayP("channel", "c", nil, "Channel to subscribe to (repeatable)")
	tailCmd.Flags().String("uid", "", "Client uid (default: server-assigned)")
	tailCmd.Flags().StringArray("ctx", nil, "Stream context key=value (repeatable)")
	tailCmd.Flags().Int("limit", 0, "Stop after N messages (0 = infinite)")
	tailCmd.Flags().Bool("pings", false, "Include keepalive pings in output")
	return tailCmd
}
