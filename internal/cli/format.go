package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/gogpu/hwc"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// tagColors colors layer tags by where the layer is composed.
var tagColors = map[hwc.Tag]*color.Color{
	hwc.TagPipe:        color.New(color.FgGreen),
	hwc.TagFramebuffer: color.New(color.FgYellow),
	hwc.TagBlit:        color.New(color.FgCyan),
	hwc.TagTarget:      color.New(color.FgBlue),
}

func printSection(w io.Writer, title string) {
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
}

func printLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	_, _ = fmt.Fprintln(w, value)
}

func printWarning(w io.Writer, msg string) {
	_, _ = warningColor.Fprintf(w, "⚠ %s\n", msg)
}

func printSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", msg)
}

func tagString(t hwc.Tag) string {
	if c, ok := tagColors[t]; ok {
		return c.Sprint(t)
	}
	return dimColor.Sprint(t)
}
