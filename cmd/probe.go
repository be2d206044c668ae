package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/harness"
	"github.com/cuioss/nifi-uiharness/internal/observability"
)

var (
	probePath    string
	probeExpect  string
	probeWait    bool
	probeReady   bool
	probeTimeout time.Duration
)

// probeCmd classifies the current state of the target UI and prints the
// resulting page context as JSON.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Navigate to the target UI, classify the page and print the context.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.Logger()
		ctx := cmd.Context()

		components, err := buildComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		h := components.Harness
		if err := components.Driver.Navigate(ctx, probePath); err != nil {
			return err
		}

		var pc schemas.PageContext
		if probeWait {
			target, err := parsePageType(probeExpect)
			if err != nil {
				return err
			}
			pc, err = h.WaitForPageType(ctx, target, harness.WaitOptions{
				Timeout:      probeTimeout,
				WaitForReady: probeReady,
			})
			if err != nil {
				return err
			}
		} else {
			pc, err = h.GetPageContext(ctx)
			if err != nil {
				return err
			}
			if probeExpect != "" {
				target, err := parsePageType(probeExpect)
				if err != nil {
					return err
				}
				if pc.PageType != target {
					return &harness.PageTypeMismatchError{Expected: target, Actual: pc.PageType, Context: pc}
				}
			}
		}

		logger.Info("Page classified",
			zap.String("page_type", string(pc.PageType)),
			zap.Bool("authenticated", pc.Authenticated),
			zap.Bool("ready", pc.Ready),
		)

		encoded, err := json.MarshalIndent(pc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode page context: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}

func parsePageType(raw string) (schemas.PageType, error) {
	switch schemas.PageType(raw) {
	case schemas.PageTypeLogin, schemas.PageTypeMainCanvas, schemas.PageTypeUnknown:
		return schemas.PageType(raw), nil
	default:
		return "", fmt.Errorf("unknown page type %q (want %s, %s or %s)",
			raw, schemas.PageTypeLogin, schemas.PageTypeMainCanvas, schemas.PageTypeUnknown)
	}
}

func init() {
	probeCmd.Flags().StringVar(&probePath, "path", "/", "path to open, resolved against harness.base_url")
	probeCmd.Flags().StringVar(&probeExpect, "expect", "", "fail unless the page classifies as this type")
	probeCmd.Flags().BoolVar(&probeWait, "wait", false, "poll until the expected page type is reached")
	probeCmd.Flags().BoolVar(&probeReady, "ready", false, "with --wait, also require the page to be ready")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 0, "override harness.wait_timeout for --wait")
}
