package run

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opusrelay/qvox/testclient"
)

var (
	serverAddr string
	username   string
	password   string
	channelID  uint32
	echo       bool

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Run a debug client against a relay server",
		Args:  cobra.NoArgs,
		RunE:  runClient,
	}
)

func init() {
	clientCmd.Flags().StringVar(&serverAddr, "server", "127.0.0.1:7788", "relay server address")
	clientCmd.Flags().StringVar(&username, "username", "debug", "authentication username")
	clientCmd.Flags().StringVar(&password, "password", "", "authentication password")
	clientCmd.Flags().Uint32Var(&channelID, "channel", 1, "channel to join")
	clientCmd.Flags().BoolVar(&echo, "echo", false, "authenticate in echo mode")
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.With().Str("com", "client-cmd").Logger()

	c, err := testclient.Dial(ctx, serverAddr, logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	if err := c.Authenticate(ctx, echo, username, password); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info().Str("username", username).Bool("echo", echo).Msg("authenticated")

	if !echo {
		if err := c.JoinChannel(channelID); err != nil {
			return fmt.Errorf("join channel: %w", err)
		}
		logger.Info().Uint32("channel", channelID).Msg("join requested")
	}

	go func() {
		for {
			senderID, payload, err := c.ReadFrame()
			if err != nil {
				logger.Debug().Err(err).Msg("stopped reading frames")
				return
			}
			logger.Info().Uint32("sender_id", senderID).Int("bytes", len(payload)).Msg("received frame")
		}
	}()

	if err := c.SendFrame([]byte("Test Message")); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	logger.Info().Msg("sent test frame, press ctrl+c to exit")

	<-ctx.Done()
	return nil
}
