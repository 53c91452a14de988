package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketchat/internal/adapter/httpclient"
	"marketchat/internal/chatsync"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/eventbus"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

var (
	viewerID   int64
	viewerRole string
	viewerName string
	apiURL     string
	wsURL      string
	noLive     bool
)

var rootCmd = &cobra.Command{
	Use:          "chatcli",
	Short:        "Marketplace chat client",
	Long:         "Drives the chat widget against a chat backend: list conversations, read and send messages, watch live traffic.",
	SilenceUsage: true,
}

func init() {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}
	logger.SetEnvironment(cfg.Environment)

	rootCmd.PersistentFlags().Int64Var(&viewerID, "viewer", 0, "ID of the logged-in user")
	rootCmd.PersistentFlags().StringVar(&viewerRole, "role", string(entity.RoleBuyer), "Role of the logged-in user (buyer|seller)")
	rootCmd.PersistentFlags().StringVar(&viewerName, "name", "", "Display name of the logged-in user")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", cfg.APIBaseURL, "Base URL of the chat REST API")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", cfg.WSURL, "URL of the live endpoint")
	rootCmd.PersistentFlags().BoolVar(&noLive, "no-live", false, "Send over REST only, never open the live connection")
	rootCmd.MarkPersistentFlagRequired("viewer")

	rootCmd.AddCommand(conversationsCmd, historyCmd, sendCmd, deleteCmd, watchCmd)
}

func currentViewer() (entity.Viewer, error) {
	role := entity.Role(viewerRole)
	if !role.Valid() {
		return entity.Viewer{}, fmt.Errorf("--role must be buyer or seller, got %q", viewerRole)
	}
	if viewerID <= 0 {
		return entity.Viewer{}, errors.New("--viewer must be a positive id")
	}
	return entity.Viewer{ID: viewerID, Role: role, Name: viewerName}, nil
}

// startWidget builds and starts a widget for the flags in effect. The caller
// must Shutdown it.
func startWidget(ctx context.Context) (*chatsync.Widget, *websocket.Connection, error) {
	viewer, err := currentViewer()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	opts := chatsync.OptionsFrom(cfg.ChatOptions())
	opts.PollInterval = 0

	var live chatsync.LiveConnection
	var conn *websocket.Connection
	if !noLive {
		conn = websocket.NewConnection(wsURL, cfg.Topic, websocket.WithReconnectMaxElapsed(cfg.ReconnectFor))
		live = conn
	}

	widget := chatsync.NewWidget(httpclient.NewChatClient(apiURL, nil), live, eventbus.New(), viewer, opts)
	widget.Start(ctx)
	return widget, conn, nil
}

// waitConnected gives the live connection a moment to come up so sends take
// the live path. Without it sends fall back to REST.
func waitConnected(conn *websocket.Connection, timeout time.Duration) bool {
	if conn == nil {
		return false
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.Connected() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
