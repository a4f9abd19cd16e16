// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	discoveryTimeout time.Duration
	discoveryFirst   string
	discoveryLast    string
	discoveryUptime  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover boards on the bus",
	Long: `Send a system feature request to every address in a range and list the
boards that answer with their feature bitmap.

Boards reply to SYSTEM function 0 with the bitmap of registered feature
types. With --uptime, each board found is also asked for its tick count.

Examples:
  pinbus discover --bus socketcan --iface can0
  pinbus discover --bus ws --url ws://localhost:8081/bus --first 1 --last 16

Exit codes:
  0 - At least one board found
  1 - No boards answered`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVar(&discoveryTimeout, "timeout", 2*time.Second, "How long to collect replies")
	discoverCmd.Flags().StringVar(&discoveryFirst, "first", "0", "First address to probe")
	discoverCmd.Flags().StringVar(&discoveryLast, "last", "255", "Last address to probe")
	discoverCmd.Flags().BoolVar(&discoveryUptime, "uptime", false, "Also request each board's uptime")
}

type discoveredBoard struct {
	address  uint8
	features uint16
	uptime   uint32
	hasUp    bool
}

func runDiscover(cmd *cobra.Command, args []string) error {
	log := logs.Module("discover")

	first, err := boardAddress(discoveryFirst)
	if err != nil {
		return err
	}
	last, err := boardAddress(discoveryLast)
	if err != nil {
		return err
	}
	if last < first {
		return fmt.Errorf("--last 0x%02X is below --first 0x%02X", last, first)
	}

	bus, connInfo, err := OpenBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Pinbus - Board Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Range: 0x%02X-0x%02X\n", first, last)
	fmt.Printf("Timeout: %s\n\n", discoveryTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	boards := make(map[uint8]*discoveredBoard)
	replies := make(chan pinball.Message, 64)
	go func() {
		defer close(replies)
		for {
			f, err := bus.ReadFrame(ctx)
			if err != nil {
				return
			}
			if !f.Extended || f.Remote {
				continue
			}
			m := pinball.Decode(f)
			if m.FeatureType == pinball.FeatureSystem {
				replies <- m
			}
		}
	}()

	for addr := int(first); addr <= int(last); addr++ {
		req := pinball.NewRequest(uint8(addr), pinball.FeatureSystem, 0, pinball.SystemFnFeatures)
		if err := bus.WriteFrame(pinball.Encode(req, 0)); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
	}
	log.Debug("probes sent", zap.Int("count", int(last)-int(first)+1))

	for m := range replies {
		data := m.Payload()
		switch m.Function {
		case pinball.SystemFnFeatures:
			if len(data) < 2 {
				continue
			}
			if _, seen := boards[m.Address]; seen {
				continue
			}
			b := &discoveredBoard{address: m.Address, features: binary.LittleEndian.Uint16(data)}
			boards[m.Address] = b
			m.Kind = pinball.KindResponse
			fmt.Printf("Board found at 0x%02X: %s\n", m.Address, pinball.FormatPayload(m))

			if discoveryUptime {
				req := pinball.NewRequest(m.Address, pinball.FeatureSystem, 0, pinball.SystemFnUptime)
				if err := bus.WriteFrame(pinball.Encode(req, 0)); err != nil {
					log.Warn("uptime request failed", zap.Uint8("address", m.Address), zap.Error(err))
				}
			}

		case pinball.SystemFnUptime:
			if b, ok := boards[m.Address]; ok && len(data) >= 4 {
				b.uptime = binary.LittleEndian.Uint32(data)
				b.hasUp = true
			}
		}
	}

	printDiscoverySummary(boards)
	if len(boards) == 0 {
		return fmt.Errorf("no boards answered")
	}
	return nil
}

func printDiscoverySummary(boards map[uint8]*discoveredBoard) {
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Boards found: %d\n", len(boards))

	addrs := make([]int, 0, len(boards))
	for a := range boards {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)

	for _, a := range addrs {
		b := boards[uint8(a)]
		line := fmt.Sprintf("  0x%02X  features=0x%04X", b.address, b.features)
		for ft := 0; ft < pinball.MaxFeatures; ft++ {
			if b.features&(1<<ft) != 0 {
				line += " " + pinball.FormatFeatureType(pinball.FeatureType(ft))
			}
		}
		if b.hasUp {
			line += fmt.Sprintf("  uptime=%d ticks", b.uptime)
		}
		fmt.Println(line)
	}
}
