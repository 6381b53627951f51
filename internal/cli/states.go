package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/hwc/overlay"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List the overlay states and their pipe graphs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, s := range overlay.States() {
			rec, ok := overlay.RecipeFor(s)
			if !ok {
				continue
			}
			printSection(out, s.String())
			if len(rec.Roles) == 0 {
				_, _ = dimColor.Fprintln(out, "  no pipes")
				continue
			}
			for _, r := range rec.Roles {
				slot := fmt.Sprintf("layer %d", r.Slot)
				if r.Slot == overlay.SlotTarget {
					slot = "target"
				}
				printLabelValue(out, r.Name, fmt.Sprintf("%s on %s, type %s, needs %s", slot, r.Placement, r.Hint, r.Need))
			}
		}
		return nil
	},
}
