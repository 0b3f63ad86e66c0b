// Command bubblectl segments text into speech bubbles and replays a bubble
// queue offline on a virtual clock.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
)

var (
	version = "dev"

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	bubbleStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type capacityFlags struct {
	chars int
	lines int
	plain bool
}

func (f *capacityFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.chars, "chars", bubbles.DefaultCapacity.MaxCharsPerLine, "characters per line")
	cmd.Flags().IntVar(&f.lines, "lines", bubbles.DefaultCapacity.MaxLinesPerBubble, "lines per bubble")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "print without borders or colors")
}

func (f *capacityFlags) validate() error {
	if f.chars < 1 || f.lines < 1 {
		return fmt.Errorf("--chars and --lines must be positive (got %d, %d)", f.chars, f.lines)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bubblectl",
		Short:         "Inspect how replies are split into speech bubbles",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSegmentCmd(), newSimulateCmd())
	return root
}

// readText joins the arguments, or reads stdin when there are none or the
// only argument is "-".
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	return strings.Join(args, " "), nil
}
