// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/pinbus/pinbus/internal/api"
	"github.com/pinbus/pinbus/pkg/board"
	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/pinbus/pinbus/pkg/pinball/coils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	boardCount  int
	boardTUI    bool
	boardRecord string
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Run simulated boards on the bus",
	Long: `Run one or more simulated Pinball Protocol boards. Each board registers
the system feature, the switch engine and (unless --coils 0) a coil
feature, and answers requests and commands like real firmware.

Switch inputs are driven from the terminal UI (--tui) or the HTTP API
(--http). Coil activations fired by hardware rules are logged.

With --bus loopback the boards share an in-process bus; --ws-listen
exposes it over WebSocket so other pinbus commands can join with
--bus ws --url ws://<addr><bridge path>.

Multiple boards (--boards N) take consecutive addresses starting at
--address. The HTTP API and the TUI drive the first board.

Examples:
  # Board 42 with 15 switches on can0
  pinbus board --iface can0 --address 42 --switches 15

  # Two boards on a virtual bus, reachable over WebSocket
  pinbus board --bus loopback --boards 2 --address 7 --ws-listen :8081

  # Drive switches over HTTP
  pinbus board --bus loopback --ws-listen :8081 --http :8080
  curl -X PUT localhost:8080/api/v1/switches/0 -d '{"closed":true}'`,
	RunE: runBoard,
}

func init() {
	rootCmd.AddCommand(boardCmd)
	f := boardCmd.Flags()
	f.IntP("address", "a", 1, "Board address (first board)")
	f.Int("switches", 16, "Switch channels per board (1-16)")
	f.Int("coils", 8, "Coil channels per board (0 disables)")
	f.Duration("tick", time.Millisecond, "Tick interval")
	f.String("http", "", "Serve the board API on this address")
	f.String("ws-listen", "", "Serve the loopback bus over WebSocket on this address")
	f.IntVar(&boardCount, "boards", 1, "Number of boards (loopback bus only)")
	f.BoolVar(&boardTUI, "tui", false, "Drive the first board from a terminal UI")
	f.StringVar(&boardRecord, "record", "", "Record the first board's traffic to a trace file")

	commandFlagKeys["board"] = map[string]string{
		"address":   "board.address",
		"switches":  "board.switches",
		"coils":     "board.coils",
		"tick":      "board.tick_interval",
		"http":      "http.listen",
		"ws-listen": "bridge.listen",
	}
}

func runBoard(cmd *cobra.Command, args []string) error {
	log := logs.Module("board")

	loopback := canbus.Kind(cfg.Bus.Kind) == canbus.KindLoopback
	if cfg.Bridge.Listen != "" && !loopback {
		return fmt.Errorf("--ws-listen needs --bus loopback")
	}
	if boardCount < 1 || (boardCount > 1 && !loopback) {
		return fmt.Errorf("--boards %d: more than one board needs --bus loopback", boardCount)
	}
	if cfg.Board.Address+boardCount-1 > 0xFF {
		return fmt.Errorf("--boards %d from address %d runs past 0xFF", boardCount, cfg.Board.Address)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	// abort stops anything already running in g before reporting err
	abort := func(err error) error {
		stop()
		g.Wait()
		return err
	}

	// Buses, one per board
	buses := make([]canbus.Bus, boardCount)
	connInfo := ""
	if loopback {
		lb := canbus.NewLoopback(cfg.Bus.QueueLen)
		for i := range buses {
			buses[i] = lb.Endpoint()
		}
		connInfo = "Loopback"
		if cfg.Bridge.Listen != "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.Bridge.Path, canbus.NewBridgeHandler(lb, logs.Module("bridge")))
			serveHTTP(ctx, g, log, "bridge", cfg.Bridge.Listen, mux)
			connInfo = fmt.Sprintf("Loopback, bridged at ws://%s%s", cfg.Bridge.Listen, cfg.Bridge.Path)
		}
	} else {
		bus, info, err := OpenBus(cfg.Bus)
		if err != nil {
			return err
		}
		buses[0] = bus
		connInfo = info
	}
	defer func() {
		for _, b := range buses {
			b.Close()
		}
	}()

	if boardRecord != "" {
		f, err := os.Create(boardRecord)
		if err != nil {
			return abort(fmt.Errorf("create trace: %w", err))
		}
		defer f.Close()
		tw, err := canbus.NewTraceWriter(f, connInfo)
		if err != nil {
			return abort(err)
		}
		buses[0] = canbus.NewTracingBus(buses[0], tw)
	}

	var program *tea.Program
	boards := make([]*board.Board, boardCount)
	for i := range boards {
		opts := board.Options{
			Address:      uint8(cfg.Board.Address + i),
			Switches:     cfg.Board.Switches,
			Coils:        cfg.Board.Coils,
			TickInterval: cfg.Board.TickInterval,
			Logger:       logs.Logger,
		}
		if i == 0 && boardTUI {
			opts.OnTraffic = func(dir canbus.Direction, m pinball.Message) {
				program.Send(trafficMsg{at: time.Now(), dir: dir, msg: m})
			}
			opts.OnCoil = func(n int, env coils.Envelope) {
				program.Send(coilMsg{at: time.Now(), coil: n, env: env})
			}
		}
		b, err := board.New(buses[i], opts)
		if err != nil {
			return abort(err)
		}
		boards[i] = b
	}

	// The program must exist before the boards run and call back into it
	if boardTUI {
		// Console logging would tear the alternate screen
		if cfg.Log.Output == "stderr" || cfg.Log.Output == "both" {
			logs.SetLevel("error")
		}
		program = tea.NewProgram(initialBoardModel(ctx, boards[0], connInfo), tea.WithAltScreen())
	}
	for _, b := range boards {
		b := b
		g.Go(func() error { return b.Run(ctx) })
	}

	if cfg.HTTP.Listen != "" {
		gin.SetMode(cfg.HTTP.Mode)
		router := api.NewRouter(boards[0], logs.Module("api"))
		serveHTTP(ctx, g, log, "api", cfg.HTTP.Listen, router)
	}

	if program != nil {
		g.Go(func() error {
			_, err := program.Run()
			stop()
			if err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		})
		go func() {
			<-ctx.Done()
			program.Quit()
		}()
	} else {
		fmt.Printf("Pinbus - Simulated Board\n")
		fmt.Printf("Connection: %s\n", connInfo)
		for _, b := range boards {
			fmt.Printf("Board 0x%02X: %d switches, %d coils\n", b.Address(), b.NumSwitches(), cfg.Board.Coils)
		}
		if cfg.HTTP.Listen != "" {
			fmt.Printf("API: http://%s/api/v1/board\n", cfg.HTTP.Listen)
		}
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// serveHTTP runs an HTTP server in g until ctx ends
func serveHTTP(ctx context.Context, g *errgroup.Group, log *zap.Logger, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info("listening", zap.String("server", name), zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
