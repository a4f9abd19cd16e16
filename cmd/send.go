// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	sendRequest  bool
	sendPriority uint8
	sendWait     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <address> <feature> <num> <function> [data...]",
	Short: "Send a command or request to a board",
	Long: `Send one Pinball Protocol message and optionally wait for the reply.

Feature may be a number (0-15) or a name: system, switch, lamp, coil, rgb,
score, bootloader. For switches, function may also be a name: state, poll,
trigger, debounce, open-rule, close-rule, bulk. Numbers and data bytes
accept decimal or 0x-prefixed hex.

Examples:
  # Read switch 3 on board 42
  pinbus send 42 switch 3 state --request

  # Report rising edges on switch 0 of board 42
  pinbus send 42 switch 0 trigger 0x01

  # Arm the close rule of switch 0: fire coil 2 on board 7
  pinbus send 42 switch 0 close-rule 1 7 2 255 20 64 5

  # Fire coil 2 on board 7
  pinbus send 7 coil 2 0 255 20 64 5

Exit codes:
  0 - Sent (and reply received, when waiting)
  1 - Timeout or send failure`,
	Args: cobra.MinimumNArgs(4),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVarP(&sendRequest, "request", "r", false, "Send a request (remote frame) instead of a command")
	sendCmd.Flags().Uint8Var(&sendPriority, "priority", pinball.PriorityDefault, "Message priority (0 is highest)")
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", 0, "Wait this long for a reply (requests default to 1s)")
}

func runSend(cmd *cobra.Command, args []string) error {
	m, err := parseMessage(args, sendRequest)
	if err != nil {
		return err
	}
	m.Priority = sendPriority

	wait := sendWait
	if !cmd.Flags().Changed("wait") && sendRequest {
		wait = time.Second
	}

	bus, connInfo, err := OpenBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	f := pinball.Encode(m, 0)
	logs.Module("send").Debug("sending", zap.String("bus", connInfo), zap.String("frame", f.String()))
	fmt.Printf("TX %s\n   %s\n", pinball.FormatFrame(f), pinball.FormatMessage(m))
	if err := bus.WriteFrame(f); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	if wait <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	reply, err := waitReply(ctx, bus, m)
	if err != nil {
		return fmt.Errorf("no reply from 0x%02X within %s", m.Address, wait)
	}
	fmt.Printf("RX %s\n   %s\n", pinball.FormatFrame(pinball.Encode(reply, reply.Address)), pinball.FormatMessage(reply))
	return nil
}

// waitReply reads until a data frame from the board and feature that m
// addressed arrives.
func waitReply(ctx context.Context, bus canbus.Bus, m pinball.Message) (pinball.Message, error) {
	for {
		f, err := bus.ReadFrame(ctx)
		if err != nil {
			return pinball.Message{}, err
		}
		if !f.Extended || f.Remote {
			continue
		}
		r := pinball.Decode(f)
		if r.Address == m.Address && r.FeatureType == m.FeatureType &&
			r.FeatureNum == m.FeatureNum && r.Function == m.Function {
			r.Kind = pinball.KindResponse
			return r, nil
		}
	}
}

var featureNames = map[string]pinball.FeatureType{
	"system":     pinball.FeatureSystem,
	"switch":     pinball.FeatureSwitch,
	"lamp":       pinball.FeatureLamp,
	"coil":       pinball.FeatureCoil,
	"rgb":        pinball.FeatureRGB,
	"score":      pinball.FeatureScore,
	"bootloader": pinball.FeatureBootloader,
}

var switchFunctionNames = map[string]uint8{
	"state":      pinball.SwitchFnState,
	"poll":       pinball.SwitchFnPollInterval,
	"trigger":    pinball.SwitchFnTriggerMask,
	"debounce":   pinball.SwitchFnDebounceLimit,
	"open-rule":  pinball.SwitchFnOpenRule,
	"close-rule": pinball.SwitchFnCloseRule,
	"bulk":       pinball.SwitchFnBulkState,
}

// parseMessage builds a message from <address> <feature> <num> <function> [data...]
func parseMessage(args []string, request bool) (pinball.Message, error) {
	addr, err := boardAddress(args[0])
	if err != nil {
		return pinball.Message{}, err
	}
	ft, err := parseFeature(args[1])
	if err != nil {
		return pinball.Message{}, err
	}
	num, err := parseNibble(args[2], "feature number")
	if err != nil {
		return pinball.Message{}, err
	}
	fn, err := parseFunction(ft, args[3])
	if err != nil {
		return pinball.Message{}, err
	}

	if request {
		if len(args) > 4 {
			return pinball.Message{}, fmt.Errorf("requests carry no data")
		}
		return pinball.NewRequest(addr, ft, num, fn), nil
	}

	data, err := parseData(args[4:])
	if err != nil {
		return pinball.Message{}, err
	}
	return pinball.NewCommand(addr, ft, num, fn, data...), nil
}

func parseFeature(s string) (pinball.FeatureType, error) {
	if ft, ok := featureNames[strings.ToLower(s)]; ok {
		return ft, nil
	}
	v, err := parseNibble(s, "feature")
	return pinball.FeatureType(v), err
}

func parseFunction(ft pinball.FeatureType, s string) (uint8, error) {
	if ft == pinball.FeatureSwitch {
		if fn, ok := switchFunctionNames[strings.ToLower(s)]; ok {
			return fn, nil
		}
	}
	return parseNibble(s, "function")
}

func parseNibble(s, what string) (uint8, error) {
	v, err := parseByte(s)
	if err != nil || v > 0x0F {
		return 0, fmt.Errorf("%s %q: want 0-15", what, s)
	}
	return v, nil
}

// parseByte accepts decimal or 0x-prefixed hex
func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func parseData(args []string) ([]byte, error) {
	if len(args) > pinball.MaxDataLen {
		return nil, fmt.Errorf("at most %d data bytes, got %d", pinball.MaxDataLen, len(args))
	}
	data := make([]byte, 0, len(args))
	for _, a := range args {
		b, err := parseByte(a)
		if err != nil {
			return nil, fmt.Errorf("data byte %q: %w", a, err)
		}
		data = append(data, b)
	}
	return data, nil
}
