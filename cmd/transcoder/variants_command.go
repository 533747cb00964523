package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"transcoder/internal/transcode"
	"transcoder/internal/variant"
)

type variantView struct {
	Key       string   `json:"key"`
	Codec     string   `json:"codec"`
	Height    int      `json:"height,omitempty"`
	Bitrate   string   `json:"bitrate,omitempty"`
	TwoPass   bool     `json:"twoPass"`
	Streaming string   `json:"streaming,omitempty"`
	RemuxFrom []string `json:"remuxFrom,omitempty"`
	Enabled   bool     `json:"enabled"`
}

func newVariantsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "variants",
		Short: "List the variant catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			catalog, err := transcode.LoadCatalog(cfg)
			if err != nil {
				return err
			}
			enabled := catalog.Enabled(cfg.Transcode.EnabledVideo, cfg.Transcode.EnabledAudio)
			views := buildVariantViews(catalog, enabled, enabledOnly)

			if jsonOut {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				height := "-"
				if v.Height > 0 {
					height = strconv.Itoa(v.Height)
				}
				bitrate := v.Bitrate
				if bitrate == "" {
					bitrate = "-"
				}
				rows = append(rows, []string{v.Key, v.Codec, height, bitrate, yesNo(v.TwoPass), v.Streaming, yesNo(v.Enabled)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Codec", "Height", "Bitrate", "Two-pass", "Streaming", "Enabled"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only list enabled variants")
	return cmd
}

func buildVariantViews(catalog variant.Catalog, enabled []string, enabledOnly bool) []variantView {
	views := make([]variantView, 0, catalog.Len())
	for _, key := range catalog.SortForDisplay(catalog.Keys()) {
		on := slices.Contains(enabled, key)
		if enabledOnly && !on {
			continue
		}
		spec, _ := catalog.Lookup(key)
		bitrate := spec.VideoBitrate
		if spec.NoVideo {
			bitrate = spec.AudioBitrate
		}
		views = append(views, variantView{
			Key:       key,
			Codec:     spec.Codec(),
			Height:    spec.TargetHeight(),
			Bitrate:   bitrate,
			TwoPass:   spec.TwoPass,
			Streaming: spec.Streaming,
			RemuxFrom: spec.RemuxFrom,
			Enabled:   on,
		})
	}
	return views
}
