// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/spf13/cobra"
)

var (
	pingTimeout  time.Duration
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping <address>",
	Short: "Measure round trips to a board with uptime requests",
	Long: `Send SYSTEM uptime requests to one board and wait for each reply.

This verifies bidirectional traffic with a board (or a simulated board
behind a WebSocket bridge) and reports the round-trip time and the
board's tick counter.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	addr, err := boardAddress(args[0])
	if err != nil {
		return err
	}
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	bus, connInfo, err := OpenBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Pinbus - Ping 0x%02X\n", addr)
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n\n", pingTimeout)

	req := pinball.NewRequest(addr, pinball.FeatureSystem, 0, pinball.SystemFnUptime)
	successCount := 0
	var totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := bus.WriteFrame(pinball.Encode(req, 0)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		reply, err := waitReply(ctx, bus, req)
		cancel()
		if err != nil {
			fmt.Printf("TIMEOUT (no response in %s)\n", pingTimeout)
		} else if data := reply.Payload(); len(data) < 4 {
			fmt.Printf("SHORT REPLY (%d bytes)\n", len(data))
		} else {
			rtt := time.Since(startTime)
			totalRTT += rtt
			successCount++
			fmt.Printf("reply from 0x%02X, uptime=%d ticks, rtt=%v\n",
				addr, binary.LittleEndian.Uint32(data), rtt.Round(time.Microsecond))
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (totalRTT / time.Duration(successCount)).Round(time.Microsecond))
	}

	if successCount < pingCount {
		return fmt.Errorf("%d of %d pings failed", pingCount-successCount, pingCount)
	}
	return nil
}
