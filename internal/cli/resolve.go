package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"clipfetch/pkg/router"
)

var resolveJSONFlag bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Print the media URL a share link resolves to without downloading",
	Long: `Run platform detection and extraction only and print the winning
media URL, the referer to send with it, and any metadata found.

Instagram, X and YouTube links are handled entirely by yt-dlp and cannot be resolved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown()

		res, err := a.Router.Resolve(cmd.Context(), args[0], a.Options())
		if err != nil {
			return err
		}
		return printResolution(cmd.OutOrStdout(), res, resolveJSONFlag)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveJSONFlag, "json", false, "Print the resolution as JSON")
}

func printResolution(w io.Writer, res *router.Resolution, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{
			"platform":  res.Source.Platform,
			"source":    res.Source.URL,
			"media_url": res.Result.MediaURL,
			"referer":   res.Result.Referer,
			"metadata":  res.Result.Metadata,
		})
	}

	fmt.Fprintf(w, "platform:  %s\n", res.Source.Platform)
	fmt.Fprintf(w, "media_url: %s\n", res.Result.MediaURL)
	if res.Result.Referer != "" {
		fmt.Fprintf(w, "referer:   %s\n", res.Result.Referer)
	}
	keys := lo.Keys(res.Result.Metadata)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-10s %s\n", k+":", res.Result.Metadata[k])
	}
	return nil
}
