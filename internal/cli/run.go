package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gogpu/hwc/internal/sim"
)

var (
	runQuiet  bool
	runStrict bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Replay a frame scenario",
	Long: `Replay a frame scenario against the simulated display device.

Every frame prints the display, the overlay state, the plan and the
composition of each layer:

  pipe         scanned out by a hardware pipe
  framebuffer  drawn by the GPU into the framebuffer target
  blit         drawn by the 2D blit engine
  target       the framebuffer target itself`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sim.Load(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		title := s.Name
		if title == "" {
			title = args[0]
		}
		printSection(out, title)

		var observe func(sim.FrameResult)
		if !runQuiet {
			observe = func(r sim.FrameResult) { printFrame(out, r) }
		}
		sum, err := sim.Run(cmd.Context(), s, observe)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		printSection(out, "Summary")
		printLabelValue(out, "Frames", fmt.Sprintf("%d (%d errors)", sum.Frames, sum.Errors))
		printLabelValue(out, "Composer", sum.Composer.String())
		printLabelValue(out, "Device", sum.Device.String())
		if sum.Errors > 0 {
			if runStrict {
				return fmt.Errorf("%d of %d frames failed", sum.Errors, sum.Frames)
			}
			printWarning(out, fmt.Sprintf("%d frames failed", sum.Errors))
			return nil
		}
		printSuccess(out, "all frames committed")
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print the summary only")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Exit with an error when any frame fails")
}

func printFrame(w io.Writer, r sim.FrameResult) {
	label := fmt.Sprintf("%d", r.Step)
	if r.Run > 0 {
		label = fmt.Sprintf("%d.%d", r.Step, r.Run)
	}
	plan := "-"
	if r.Report.Plan != nil {
		plan = r.Report.Plan.String()
	}
	_, _ = dimColor.Fprintf(w, "%6s ", label)
	fmt.Fprintf(w, "%-8s %-30s %s\n", r.Display, r.Report.State, plan)

	if len(r.Tags) > 0 {
		parts := make([]string, len(r.Tags))
		for i, tag := range r.Tags {
			parts[i] = r.Names[i] + "=" + tagString(tag)
		}
		fmt.Fprintf(w, "       %s\n", strings.Join(parts, " "))
	}
	note := func(c *color.Color, msg string) {
		_, _ = c.Fprintf(w, "       %s\n", msg)
	}
	if r.Aborted {
		note(warningColor, "aborted")
	}
	if r.Report.Fallback != nil {
		note(warningColor, "fallback: "+r.Report.Fallback.Error())
	}
	if len(r.Report.Dropped) > 0 {
		note(warningColor, fmt.Sprintf("dropped layers %v", r.Report.Dropped))
	}
	if r.Report.TargetErr != nil {
		note(warningColor, "target: "+r.Report.TargetErr.Error())
	}
	if r.Report.Sync.TimedOut {
		note(warningColor, "buffer sync timed out")
	}
	if r.Err != nil {
		note(errorColor, r.Err.Error())
	}
}
