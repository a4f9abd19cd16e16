// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	replayRealtime bool
	replayTransmit bool
	replaySpeed    float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace-file>",
	Short: "Print or replay a recorded trace",
	Long: `Decode a CBOR trace written by 'pinbus monitor --record' or
'pinbus board --record' and print every frame with its offset from the
start of the capture, followed by a statistics summary.

With --transmit the frames are also written to the selected bus, paced
by their recorded offsets (scaled by --speed).`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Pace output by the recorded offsets")
	replayCmd.Flags().BoolVar(&replayTransmit, "transmit", false, "Write the frames to the bus (implies --realtime)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier for --realtime")
}

func runReplay(cmd *cobra.Command, args []string) error {
	log := logs.Module("replay")
	if replaySpeed <= 0 {
		return fmt.Errorf("--speed must be positive")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	tr, err := canbus.NewTraceReader(f)
	if err != nil {
		return err
	}
	hdr := tr.Header()

	var bus canbus.Bus
	if replayTransmit {
		var connInfo string
		bus, connInfo, err = OpenBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer bus.Close()
		log.Info("transmitting trace", zap.String("bus", connInfo))
		replayRealtime = true
	}

	fmt.Printf("Pinbus - Trace Replay\n")
	fmt.Printf("Session: %s\n", hdr.Session)
	fmt.Printf("Captured: %s on %s\n\n", hdr.Start().Format(time.RFC3339), hdr.Interface)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats := pinball.NewStatistics()
	began := time.Now()
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		frame, err := rec.Frame()
		if err != nil {
			log.Warn("skipping bad record", zap.Duration("offset", rec.Offset), zap.Error(err))
			continue
		}

		if replayRealtime {
			due := began.Add(time.Duration(float64(rec.Offset) / replaySpeed))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Until(due)):
			}
		}

		validationErrors := pinball.ValidateFrame(frame)
		stats.Update(frame, validationErrors)
		printRecord(rec, frame, validationErrors)

		if bus != nil {
			if err := bus.WriteFrame(frame); err != nil {
				return fmt.Errorf("transmit: %w", err)
			}
		}
	}

	fmt.Println()
	fmt.Print(stats.String())
	return nil
}

func printRecord(rec canbus.TraceRecord, f canbus.Frame, validationErrors []pinball.ValidationError) {
	fmt.Printf("%12s %s %s\n", rec.Offset.Round(time.Microsecond), rec.Direction, pinball.FormatFrame(f))
	if f.Extended {
		fmt.Printf("%15s %s\n", "", pinball.FormatMessage(pinball.Decode(f)))
	}
	for _, v := range validationErrors {
		fmt.Printf("%15s \033[1;33m%s\033[0m\n", "", v.Message)
	}
}
