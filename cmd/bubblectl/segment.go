package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
)

func newSegmentCmd() *cobra.Command {
	var flags capacityFlags
	cmd := &cobra.Command{
		Use:   "segment [text|-]",
		Short: "Split text into bubble-sized segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			segs := bubbles.SegmentText(text, flags.chars, flags.lines)
			out := cmd.OutOrStdout()
			if len(segs) == 0 {
				fmt.Fprintln(out, "no segments")
				return nil
			}
			for i, seg := range segs {
				if flags.plain {
					fmt.Fprintf(out, "%d\t%d words\t%s\n", i+1, seg.WordCount, seg.Text)
					continue
				}
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("#%d", i+1))+" "+
					dimStyle.Render(fmt.Sprintf("%d words, bytes %d-%d", seg.WordCount, seg.Offset, seg.Offset+len(seg.Text))))
				lines := bubbles.WrapLines(seg.Text, flags.chars)
				fmt.Fprintln(out, bubbleStyle.Render(strings.Join(lines, "\n")))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
