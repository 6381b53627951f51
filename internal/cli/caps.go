package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/config"
)

var capsConfig string

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Show the simulated hardware",
	Long: `Show the pipe inventory, rotator sessions, scaler limits, displays
and planning policy of a hardware configuration. Without --config the
default hardware is shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if capsConfig != "" {
			var err error
			if cfg, err = config.Load(capsConfig); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()

		inv := cfg.Inventory()
		printSection(out, "Pipes")
		for id, t := range inv.Types {
			printLabelValue(out, fmt.Sprintf("%d", id), fmt.Sprintf("%-4s %s", t, t.Caps()))
		}
		printLabelValue(out, "Per mixer", fmt.Sprintf("%d", inv.MaxPerMixer))
		types := make([]string, 0, len(cfg.Pipes.Limits))
		for t := range cfg.Pipes.Limits {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			printLabelValue(out, t+" per mixer", fmt.Sprintf("%d", cfg.Pipes.Limits[t]))
		}

		printSection(out, "Rotators")
		rp := cfg.RotatorPool()
		printLabelValue(out, "Sessions", fmt.Sprintf("%d", rp.Sessions))
		printLabelValue(out, "Wait timeout", rp.WaitTimeout.String())

		printSection(out, "Scaler")
		printLabelValue(out, "Max downscale", fmt.Sprintf("%g", cfg.Scaler.MaxDownscale))
		printLabelValue(out, "Max upscale", fmt.Sprintf("%d", cfg.Scaler.MaxUpscale))

		printSection(out, "Displays")
		for id := hwc.Primary; id < hwc.NumDisplays; id++ {
			attrs, ok := cfg.Display(id)
			if !ok {
				continue
			}
			mode := fmt.Sprintf("%dx%d", attrs.Width, attrs.Height)
			if attrs.IsSplit() {
				mode += fmt.Sprintf(" split at %d", attrs.SplitX)
			}
			if attrs.VsyncPeriod > 0 {
				mode += fmt.Sprintf(" vsync %s", attrs.VsyncPeriod)
			}
			printLabelValue(out, id.String(), mode)
		}

		printSection(out, "Policy")
		p := cfg.PlannerPolicy()
		printLabelValue(out, "Overlay", fmt.Sprintf("%t", p.Overlay))
		printLabelValue(out, "Max app layers", fmt.Sprintf("%d", p.MaxAppLayers))
		printLabelValue(out, "Blit", fmt.Sprintf("%s (threshold %g)", p.Blit, p.BlitThreshold))
		printLabelValue(out, "Padding round", fmt.Sprintf("%t", p.PaddingRound))
		printLabelValue(out, "Mirror", fmt.Sprintf("%t", p.Mirror))
		printLabelValue(out, "Fence timeout", cfg.Policy.FenceTimeout.String())
		if cfg.Policy.PartialUpdate {
			printLabelValue(out, "Partial update", fmt.Sprintf("full above %g", cfg.Policy.FullThreshold))
		}
		return nil
	},
}

func init() {
	capsCmd.Flags().StringVarP(&capsConfig, "config", "c", "", "Hardware configuration file")
}
