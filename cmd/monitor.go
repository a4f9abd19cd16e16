// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	showAll       bool
	statsInterval int
	recordPath    string
	filterAddress string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode bus traffic and detect malformed frames",
	Long: `Continuously decode Pinball Protocol frames as they arrive and track
anomalies with statistics.

Each frame is validated and the following are detected:
  - Standard (11-bit) identifiers on a Pinball bus
  - Data length codes above 8
  - Reserved identifier bits set
  - Switch replies shorter than the documented payload

By default, only anomalies are displayed. Use --show-all to display every
frame. Periodic statistics summaries are printed at --stats-interval.

Use --record to capture every received frame to a CBOR trace file that
'pinbus replay' can play back.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just anomalies)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
	monitorCmd.Flags().StringVar(&recordPath, "record", "", "Record received frames to a trace file")
	monitorCmd.Flags().StringVar(&filterAddress, "address", "", "Only show frames for this board address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log := logs.Module("monitor")

	var only *uint8
	if filterAddress != "" {
		addr, err := boardAddress(filterAddress)
		if err != nil {
			return err
		}
		only = &addr
	}

	cm, err := newConnectionManager(cfg.Bus, log)
	if err != nil {
		return err
	}
	defer cm.Close()

	var trace *canbus.TraceWriter
	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		trace, err = canbus.NewTraceWriter(f, cm.connInfo)
		if err != nil {
			return err
		}
		log.Info("recording trace", zap.String("file", recordPath), zap.Stringer("session", trace.Header().Session))
	}

	fmt.Printf("Pinbus - Monitor\n")
	fmt.Printf("Connection: %s\n", cm.connInfo)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats := pinball.NewStatistics()
	frames := make(chan canbus.Frame, 64)
	go func() {
		defer close(frames)
		for {
			f, err := cm.ReadFrame(ctx)
			if err != nil {
				return
			}
			frames <- f
		}
	}()

	var statsC <-chan time.Time
	if statsInterval > 0 {
		statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				fmt.Println()
				fmt.Print(stats.String())
				return nil
			}
			if trace != nil {
				if err := trace.Record(canbus.DirRX, f); err != nil {
					log.Error("trace write failed", zap.Error(err))
					trace = nil
				}
			}

			validationErrors := pinball.ValidateFrame(f)
			stats.Update(f, validationErrors)

			if only != nil && (!f.Extended || pinball.Decode(f).Address != *only) {
				continue
			}
			if len(validationErrors) > 0 {
				printValidationErrors(f, validationErrors)
			} else if showAll {
				printFrame(time.Now(), f)
			}

		case <-statsC:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

// printFrame prints one decoded frame
func printFrame(ts time.Time, f canbus.Frame) {
	fmt.Printf("[%s] %s\n", ts.Format("15:04:05.000"), pinball.FormatFrame(f))
	if f.Extended {
		fmt.Printf("  %s\n", pinball.FormatMessage(pinball.Decode(f)))
	}
}

// printValidationErrors prints the anomalies found in a frame
func printValidationErrors(f canbus.Frame, errors []pinball.ValidationError) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s\n", timestamp, pinball.FormatFrame(f))

	for i, err := range errors {
		switch err.Type {
		case pinball.AnomalyStandardID, pinball.AnomalyLengthOverflow:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case pinball.AnomalyShortPayload:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if length, ok := err.Details["length"].(uint8); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    Length: received=%d, expected=%d\n", length, expected)
				}
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if f.Extended {
		fmt.Printf("  %s\n", pinball.FormatMessage(pinball.Decode(f)))
	}
	fmt.Println()
}
