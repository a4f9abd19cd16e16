// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Pinbus - Pinball Protocol CAN bus toolkit
//
// A CLI for monitoring Pinball Protocol traffic, talking to boards and
// running simulated boards with the switch engine.

package main

import (
	"os"

	"github.com/pinbus/pinbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
