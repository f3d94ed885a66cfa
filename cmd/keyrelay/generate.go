package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"
)

var generateFlags struct {
	prompt    string
	image     string
	callerKey string
	out       string
	jsonOut   bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Route one generation request through the fallback chain",
	Long: `Route a single request through the configured tier chain, exactly as
the server's /v1/generate endpoint would, and save the resulting image.

Examples:
  keyrelay generate --prompt "a red bicycle" --out bicycle.png
  keyrelay generate --prompt "make it blue" --image bicycle.png --out blue.png
  keyrelay generate --prompt "a cat" --key AIza... --json`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateFlags.prompt, "prompt", "p", "", "text prompt (required)")
	generateCmd.Flags().StringVar(&generateFlags.image, "image", "", "input image file")
	generateCmd.Flags().StringVar(&generateFlags.callerKey, "key", "", "caller API key to try before the pool")
	generateCmd.Flags().StringVar(&generateFlags.out, "out", "", "write the generated image to this file")
	generateCmd.Flags().BoolVar(&generateFlags.jsonOut, "json", false, "print the routing result as JSON")
	_ = generateCmd.MarkFlagRequired("prompt")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req := &routing.Request{Prompt: generateFlags.prompt, CallerKey: generateFlags.callerKey}
	if generateFlags.image != "" {
		img, err := loadImage(generateFlags.image)
		if err != nil {
			return err
		}
		req.Image = img
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, nil); err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return cli.NewCommandError("generate", err)
	}
	defer a.Close(context.Background())

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	res := a.router.Route(ctx, req)
	out := cmd.OutOrStdout()

	if generateFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		for _, at := range res.Attempts {
			status := "ok"
			if !at.Success {
				status = fmt.Sprintf("failed (%s): %v", at.Reason, at.Error)
			}
			fmt.Fprintf(out, "%-7s %s\n", at.Tier, status)
		}
	}

	if !res.Success {
		return cli.NewCommandError("generate", res.Err)
	}

	if !generateFlags.jsonOut {
		fmt.Fprintf(out, "Served by %s (fallback: %v)\n", res.Tier, res.UsedFallback)
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
	}
	if generateFlags.out != "" {
		data, err := base64.StdEncoding.DecodeString(res.ImageData)
		if err != nil {
			return cli.NewCommandError("generate", fmt.Errorf("invalid image data: %w", err))
		}
		if err := os.WriteFile(generateFlags.out, data, 0o644); err != nil {
			return cli.NewCommandError("generate", err)
		}
		if !generateFlags.jsonOut {
			fmt.Fprintf(out, "Wrote %s (%s, %d bytes)\n", generateFlags.out, res.MimeType, len(data))
		}
	}
	return nil
}

// loadImage reads path as an inline image, detecting its media type from
// the extension and falling back to content sniffing.
func loadImage(path string) (*providers.InlineImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return &providers.InlineImage{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}, nil
}
