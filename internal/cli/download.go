package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"clipfetch/pkg/download"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/router"
)

var (
	urlFileFlag     string
	outputDirFlag   string
	heightFlag      int
	preferSmallFlag bool
	jobsFlag        int
	jsonFlag        bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [urls...]",
	Short: "Download one or more short videos",
	Long: `Download one or more short videos.

URLs can be given as arguments, read from a file with --file/-f (one per
line, # starts a comment), or both. Repeated URLs are downloaded once.

Examples:
  clipfetch download https://v.douyin.com/iRNBho6u/
  clipfetch download -o clips --height 720 https://www.tiktok.com/@user/video/123
  clipfetch download -f urls.txt --jobs 4`,
	Args: cobra.ArbitraryArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVarP(&urlFileFlag, "file", "f", "", "Text file with URLs, one per line")
	downloadCmd.Flags().StringVarP(&outputDirFlag, "output", "o", "", "Output directory (default from config)")
	downloadCmd.Flags().IntVar(&heightFlag, "height", 0, "Preferred video height, e.g. 720 (0 picks the best)")
	downloadCmd.Flags().BoolVar(&preferSmallFlag, "prefer-small", false, "Prefer the smallest rendition")
	downloadCmd.Flags().IntVarP(&jobsFlag, "jobs", "j", 1, "Number of downloads to run in parallel")
	downloadCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print one JSON result per line")
}

func runDownload(cmd *cobra.Command, args []string) error {
	urls, err := collectURLs(afero.NewOsFs(), args, urlFileFlag)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	opts := a.Options()
	flags := cmd.Flags()
	if flags.Changed("output") {
		opts.OutputDir = outputDirFlag
	}
	if flags.Changed("height") {
		opts.TargetHeight = heightFlag
	}
	if flags.Changed("prefer-small") {
		opts.PreferSmall = preferSmallFlag
	}
	if jobsFlag <= 1 {
		opts.Progress = progressLogger(a.Log)
	}

	a.Log.Info("starting batch download", "count", len(urls), "jobs", jobsFlag, "output_dir", opts.OutputDir)
	results := a.Router.DownloadAll(cmd.Context(), urls, opts, jobsFlag)
	return report(cmd.OutOrStdout(), results, jsonFlag)
}

type jsonResult struct {
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// report prints one line per job and fails when any job failed.
func report(w io.Writer, results []router.JobResult, asJSON bool) error {
	var failed int
	enc := json.NewEncoder(w)
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		if asJSON {
			line := jsonResult{URL: r.SourceURL}
			if r.Err != nil {
				line.Error = r.Err.Error()
			} else {
				line.Result = r.Result
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
			continue
		}
		if r.Err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", r.SourceURL, r.Err)
			continue
		}
		fmt.Fprintf(w, "✓ %s -> %s (%s, %s)\n", r.SourceURL, r.Result.LocalPath, formatBytes(r.Result.ByteSize), r.Result.ContentType)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d download(s) failed", failed, len(results))
	}
	return nil
}

// progressLogger logs every 10% of a transfer. Totals of zero are skipped.
func progressLogger(log *logging.Logger) download.ProgressFunc {
	var mu sync.Mutex
	last := -1
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		percent := int(done * 100 / total)
		mu.Lock()
		defer mu.Unlock()
		if percent < last {
			last = -1
		}
		if percent/10 == last/10 && last >= 0 {
			return
		}
		last = percent
		log.Info("downloading", "progress", fmt.Sprintf("%d%%", percent),
			"downloaded", formatBytes(done), "total", formatBytes(total))
	}
}
