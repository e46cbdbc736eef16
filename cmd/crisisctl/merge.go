package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	kafkaadapter "github.com/couchcryptid/crisis-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/crisis-data-service/internal/adapter/naturalearth"
	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type mergeOptions struct {
	Crises        string
	Boundaries    string
	BoundariesURL string
	Out           string
	ForceDownload bool
	Publish       bool
}

func newMergeCommand(root *rootOptions) *cobra.Command {
	opts := &mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge crisis rows onto country boundaries",
		Long: `Merge a JSON array of crisis rows onto the Natural Earth admin-0
boundaries and write the result as GeoJSON.

The boundaries file is downloaded when missing. Each output feature carries
the matched row's fields plus severity_bucket and severity_color.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMerge(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Crises, "crises", "data/top_crises.json", "crisis rows (JSON array)")
	cmd.Flags().StringVar(&opts.Boundaries, "boundaries", "", "boundaries GeoJSON path (default BOUNDARIES_PATH)")
	cmd.Flags().StringVar(&opts.BoundariesURL, "boundaries-url", "", "download URL when the boundaries file is missing (default BOUNDARIES_URL)")
	cmd.Flags().StringVar(&opts.Out, "out", "data/crisis_map.geojson", "merged GeoJSON output path")
	cmd.Flags().BoolVar(&opts.ForceDownload, "force-download", false, "download the boundaries even when the file exists")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "publish merged features to KAFKA_MAP_TOPIC")

	return cmd
}

func runMerge(cmd *cobra.Command, root *rootOptions, opts *mergeOptions) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}
	if opts.Publish && !cfg.PublishEnabled() {
		return errors.New("--publish needs KAFKA_BROKERS and KAFKA_MAP_TOPIC")
	}

	path := opts.Boundaries
	if path == "" {
		path = cfg.BoundariesPath
	}
	url := opts.BoundariesURL
	if url == "" {
		url = cfg.BoundariesURL
	}

	ctx := cmd.Context()
	loader := naturalearth.NewLoader(path, url, cfg.HTTPTimeout, logger)
	if _, err := loader.Ensure(ctx, opts.ForceDownload); err != nil {
		return err
	}
	boundaries, err := naturalearth.Load(path)
	if err != nil {
		return err
	}

	merged, stats, err := mergeFile(opts.Crises, boundaries)
	if err != nil {
		return err
	}
	if err := writeGeoJSON(opts.Out, merged); err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), opts.Out, stats)

	if !opts.Publish {
		return nil
	}
	writer := kafkaadapter.NewWriter(cfg, logger)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}()
	runID := uuid.NewString()
	n, err := writer.Publish(ctx, runID, merged)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d features to %s (run %s)\n", n, cfg.KafkaMapTopic, runID)
	return nil
}

// mergeFile reads crisis rows from path and merges them onto boundaries.
func mergeFile(path string, boundaries domain.FeatureCollection) (domain.FeatureCollection, domain.MergeStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FeatureCollection{}, domain.MergeStats{}, fmt.Errorf("read crises: %w", err)
	}
	records, err := domain.DecodeCrisisRecords(data)
	if err != nil {
		return domain.FeatureCollection{}, domain.MergeStats{}, fmt.Errorf("decode %s: %w", path, err)
	}
	merged, stats := domain.Merge(records, boundaries)
	return merged, stats, nil
}

func writeGeoJSON(path string, fc domain.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal merged map: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write merged map: %w", err)
	}
	return nil
}

func printStats(w io.Writer, out string, stats domain.MergeStats) {
	fmt.Fprintf(w, "wrote %d features to %s (matched %d, unmatched %d, dropped %d)\n",
		stats.Output(), out, stats.Matched, stats.Unmatched, stats.Dropped)
	for _, b := range domain.Buckets {
		if n := stats.ByBucket[b]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", b, n)
		}
	}
}
