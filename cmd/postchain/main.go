// postchain serves a chained multi-author blog and provides maintenance
// commands for its store.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/eringen/postchain"
	"github.com/eringen/postchain/chain"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "postchain",
		Short: "Chained multi-author blog server",
		Long: `Postchain serves blogs whose posts form a backward-linked chain.

Configuration is read from a TOML file (--config) and POSTCHAIN_* environment
variables. Environment variables win over the file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to TOML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := postchain.LoadConfig(configFile)
			if err != nil {
				return err
			}
			app := postchain.New(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- app.Start() }()

			select {
			case err := <-errc:
				app.Close()
				return err
			case <-ctx.Done():
			}
			app.Log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.Shutdown(shutdownCtx)
		},
	}
}

type keyFile struct {
	Address    chain.Address `json:"address"`
	PrivateKey string        `json:"private_key"`
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 identity for signing requests",
		Long: `Generate an ed25519 key pair. The address is the base58 public key used
as a blog administrator, post owner, or profile authority. The private key is
base58 encoded.

Examples:
  postchain keygen
  postchain keygen --out alice.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(keyFile{
				Address:    chain.IdentityOf(pub),
				PrivateKey: base58.Encode(priv),
			}, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(out, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for %s\n", out, chain.IdentityOf(pub))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the key to this file (mode 0600)")
	return cmd
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check every blog chain in the database for structural problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := postchain.LoadConfig(configFile)
			if err != nil {
				return err
			}
			store, err := postchain.NewStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			err = chain.Audit(cmd.Context(), store, cfg.MaxWalk)
			var merr *multierror.Error
			if errors.As(err, &merr) {
				for _, e := range merr.Errors {
					fmt.Fprintln(cmd.OutOrStdout(), "  -", e)
				}
				return fmt.Errorf("%d problems found", len(merr.Errors))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "postchain", version)
		},
	}
}
