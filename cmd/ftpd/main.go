// Command ftpd runs the passive-mode FTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sepetowski/ftpd/internal/auth"
	"github.com/sepetowski/ftpd/internal/config"
	"github.com/sepetowski/ftpd/internal/logging"
	"github.com/sepetowski/ftpd/internal/server"
)

var (
	serverConfigPath string
	usersConfigPath  string
	logLevel         string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ftpd",
		Short: "A minimal passive-mode FTP server",
		RunE:  runServe,
	}

	root.PersistentFlags().StringVar(&serverConfigPath, "server", "server.json", "Server configuration file path")
	root.PersistentFlags().StringVar(&usersConfigPath, "users", "users.json", "Users configuration file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	return root
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(serverConfigPath)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	rawUsers, err := config.LoadUsers(usersConfigPath)
	if err != nil {
		return fmt.Errorf("load users config: %w", err)
	}

	users := make([]auth.UserRecord, 0, len(rawUsers))
	for _, u := range rawUsers {
		users = append(users, auth.UserRecord{Username: u.Username, Password: u.Password})
	}

	log := logging.New(logLevel)
	log.Info("root=%s bind=%s:%d pasv=[%d,%d] users=%d anonymous=%v",
		cfg.Root, cfg.Bind, cfg.ControlPort, cfg.PasvMin, cfg.PasvMax, len(users), cfg.AllowAnonymous)

	authDir := auth.NewDirectory(users, cfg.AllowAnonymous)
	acceptor := server.NewAcceptor(cfg, authDir, afero.NewOsFs(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return acceptor.Run(ctx)
}
