// Command pitaya-server wires configuration, logging, and a running Core
// together, following the teacher's cobra root-command + persistent-flags
// + signal-wait pattern in pilot/cmd/pilot-agent/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pitaya "github.com/topfreegames/pitaya-cluster-core"
	"github.com/topfreegames/pitaya-cluster-core/internal/config"
	"github.com/topfreegames/pitaya-cluster-core/internal/dispatch"
)

var (
	v          = viper.New()
	serverID   string
	serverKind string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pitaya-server",
		Short:        "Runs a Pitaya cluster-core server instance.",
		SilenceUsage: true,
		RunE:         runServer,
	}
	fs := cmd.PersistentFlags()
	config.BindFlags(fs)
	fs.StringVar(&serverID, "server-id", "", "this server's id, unique per kind")
	fs.StringVar(&serverKind, "server-kind", "", "this server's kind (e.g. room, connector)")
	if err := v.BindPFlags(fs); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("PITAYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if serverID == "" || serverKind == "" {
		return fmt.Errorf("--server-id and --server-kind are required")
	}

	local := pitaya.LocalServer{ID: serverID, Kind: serverKind}

	// Application code registers its handlers/remotes on this table before
	// Start; a standalone binary with no embedded game logic exposes a
	// ping handler so the process is independently exercisable.
	table := dispatch.NewTable()
	table.RegisterRemote("core.ping", func(ctx context.Context, rpc dispatch.InboundRPC) ([]byte, error) {
		return []byte("pong"), nil
	})

	core := pitaya.New(cfg, local, table)

	ctx := context.Background()
	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("starting core: %w", err)
	}

	core.WaitShutdownSignal(ctx)
	return nil
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
