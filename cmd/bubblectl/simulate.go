package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
)

const (
	simulatedEntity = "entity"
	maxSimSteps     = 10000
)

func newSimulateCmd() *cobra.Command {
	var (
		flags    capacityFlags
		wpm      int
		stream   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate [text|-]",
		Short: "Replay a reply through the bubble queue on a virtual clock",
		Long: "Runs the bubble engine against a virtual clock, completing every\n" +
			"animation as soon as it starts, and prints each queue change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("--token-interval must be positive")
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			sim := newSimulation(cmd.OutOrStdout(), flags, wpm)
			if stream {
				sim.stream(text, interval)
			} else {
				sim.engine.UpdateText(simulatedEntity, text, false, "")
				sim.settle()
			}
			sim.drain()
			sim.summary()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&wpm, "wpm", bubbles.DefaultWPM, "reading speed in words per minute")
	cmd.Flags().BoolVar(&stream, "stream", false, "reveal the text word by word")
	cmd.Flags().DurationVar(&interval, "token-interval", 50*time.Millisecond, "delay between streamed words")
	return cmd
}

type simulation struct {
	out    io.Writer
	plain  bool
	clock  *bubbles.ManualClock
	start  time.Time
	engine *bubbles.Engine
	shown  map[string]bool
}

func newSimulation(out io.Writer, flags capacityFlags, wpm int) *simulation {
	clock := bubbles.NewManualClock()
	sim := &simulation{
		out:   out,
		plain: flags.plain,
		clock: clock,
		start: clock.Now(),
		shown: make(map[string]bool),
	}
	sim.engine = bubbles.NewEngine(bubbles.Config{
		Resolver: bubbles.StaticResolver{MaxCharsPerLine: flags.chars, MaxLinesPerBubble: flags.lines},
		WPM:      wpm,
		Clock:    clock,
		Observer: sim.record,
	})
	return sim
}

func (s *simulation) record(c bubbles.Change) {
	parts := make([]string, 0, len(c.Bubbles)+len(c.Retiring))
	for _, b := range c.Bubbles {
		s.shown[b.ID] = true
		parts = append(parts, fmt.Sprintf("%s[%s] %q", b.Slot, b.Animation, b.Text))
	}
	for _, b := range c.Retiring {
		parts = append(parts, fmt.Sprintf("retiring[%s] %q", b.Animation, b.Text))
	}
	elapsed := fmt.Sprintf("+%.3fs", s.clock.Now().Sub(s.start).Seconds())
	reason := fmt.Sprintf("%-18s", c.Reason)
	if !s.plain {
		elapsed = dimStyle.Render(elapsed)
		reason = headerStyle.Render(reason)
	}
	fmt.Fprintf(s.out, "%s  %s pending=%d  %s\n", elapsed, reason, len(c.Pending), strings.Join(parts, "  "))
}

// settle completes animations until none are playing.
func (s *simulation) settle() {
	for range maxSimSteps {
		snap, ok := s.engine.Snapshot(simulatedEntity)
		if !ok {
			return
		}
		var playing []bubbles.BubbleView
		for _, b := range append(snap.Bubbles, snap.Retiring...) {
			if b.Animation != bubbles.AnimationIdle {
				playing = append(playing, b)
			}
		}
		if len(playing) == 0 {
			return
		}
		for _, b := range playing {
			s.engine.OnAnimationComplete(simulatedEntity, b.ID, b.Animation)
		}
	}
}

// drain lets every pending reading pause run out.
func (s *simulation) drain() {
	for range maxSimSteps {
		s.settle()
		d, ok := s.clock.NextDeadline()
		if !ok {
			return
		}
		s.clock.Advance(d)
	}
}

func (s *simulation) stream(text string, interval time.Duration) {
	prefixes := wordPrefixes(text)
	for i, prefix := range prefixes {
		s.engine.UpdateText(simulatedEntity, prefix, i < len(prefixes)-1, "")
		s.settle()
		if i < len(prefixes)-1 {
			s.clock.Advance(interval)
			s.settle()
		}
	}
}

func (s *simulation) summary() {
	elapsed := s.clock.Now().Sub(s.start)
	fmt.Fprintf(s.out, "%d bubbles shown over %.3fs\n", len(s.shown), elapsed.Seconds())
}

// wordPrefixes returns text cut after each word, longest last.
func wordPrefixes(text string) []string {
	var out []string
	inWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inWord && space {
			out = append(out, text[:i])
		}
		inWord = !space
	}
	if inWord {
		out = append(out, text)
	}
	return out
}
