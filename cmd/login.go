package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/observability"
	"github.com/cuioss/nifi-uiharness/internal/session"
)

var (
	loginIdentity string
	loginProof    string
	loginForce    bool
	loginValidate bool
)

// loginCmd performs the full login round-trip once and reports the
// harvested session artifact. Useful for verifying credentials and
// selector health before a test run.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the target UI and report the captured session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.Logger()
		ctx := cmd.Context()

		proof := loginProof
		if proof == "" {
			proof = os.Getenv("UIHARNESS_PASSWORD")
		}
		if loginIdentity == "" || proof == "" {
			return fmt.Errorf("both --user and a password (--password or UIHARNESS_PASSWORD) are required")
		}

		components, err := buildComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		h := components.Harness
		if err := components.Driver.Navigate(ctx, "/"); err != nil {
			return err
		}

		rec, err := h.RetrieveSession(ctx, loginIdentity, proof, session.Options{
			ForceLogin:      loginForce,
			ValidateSession: loginValidate,
		})
		if err != nil {
			return err
		}

		logger.Info("Session established",
			zap.String("identity", rec.Identity),
			zap.Int("cookies", len(rec.Artifact.Cookies)),
			zap.Int("local_storage_keys", len(rec.Artifact.LocalStorage)),
			zap.Time("created_at", rec.CreatedAt),
			zap.Duration("ttl", rec.TTL),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "session established for %s (%d cookies)\n",
			rec.Identity, len(rec.Artifact.Cookies))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginIdentity, "user", "u", "", "identity to authenticate as")
	loginCmd.Flags().StringVarP(&loginProof, "password", "p", "", "credential (prefer UIHARNESS_PASSWORD)")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "discard any cached session and log in fresh")
	loginCmd.Flags().BoolVar(&loginValidate, "validate", false, "probe a reused session before trusting it")
}
