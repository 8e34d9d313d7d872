package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/eduwass/transmit-1/internal/cmd/client"
	serverrun "github.com/eduwass/transmit-1/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "transmit",
		Short: "Transmit push engine CLI",
		Long:  "Transmit is a server-sent-events push engine. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the transmit server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			pingMs, _ := cmd.Flags().GetInt("ping-interval-ms")
			busTransport, _ := cmd.Flags().GetString("bus")
			mqttBroker, _ := cmd.Flags().GetString("mqtt-broker")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				ConfigPath:   configPath,
				HTTPAddr:     httpAddr,
				PingInterval: time.Duration(pingMs) * time.Millisecond,
				BusTransport: busTransport,
				MQTTBroker:   mqttBroker,
				LogLevel:     logLevel,
				LogFormat:    logFormat,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().Int("ping-interval-ms", 0, "Keepalive ping interval in ms (0 = disabled)")
	serverStartCmd.Flags().String("bus", "", "Bus transport: none|memory|mqtt")
	serverStartCmd.Flags().String("mqtt-broker", "", "MQTT broker host:port (when --bus=mqtt)")
	serverStartCmd.Flags().String("log-level", os.Getenv("TRANSMIT_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("TRANSMIT_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewPublishCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewTailCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("TRANSMIT_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
