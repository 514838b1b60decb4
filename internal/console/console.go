// Package console is a line-based operator console for the climate hub.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"climatesync/internal/climate"
	"climatesync/internal/hub"

	"go.uber.org/zap"
)

const usage = "Commands: list | mode <eid> <mode> | temp <eid> <C> | range <eid> <heatC> <coolC> | " +
	"fan <eid> <mode> | preset <eid> <preset> | on <eid> | off <eid> | exit"

// Hub is the part of *hub.Hub the console drives.
type Hub interface {
	Subscribe(handler hub.Handler) hub.Subscription
	Entities() []*climate.State
	SetMode(entityID, mode string) error
	SetFanMode(entityID, mode string) error
	SetPresetMode(entityID, preset string) error
	SetSingleSetpoint(entityID string, value float64) error
	SetHeatCoolRange(entityID string, heat, cool float64) error
	TurnOn(entityID string) error
	TurnOff(entityID string) error
}

// Console reads commands from in and writes notifications and results to out.
type Console struct {
	hub    Hub
	in     io.Reader
	logger *zap.Logger

	outMu sync.Mutex
	out   io.Writer
}

// New creates a console.
func New(h Hub, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{hub: h, in: in, out: out, logger: logger}
}

// Run prints hub notifications and executes commands until "exit", end of
// input or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := c.hub.Subscribe(c.notify)
	defer sub.Unsubscribe()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.println("Waiting for climates… type 'list' or 'exit'.")
	for {
		c.print("> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read console input: %w", err)
					}
				default:
				}
				return nil
			}
			if !c.Execute(line) {
				return nil
			}
		}
	}
}

// Execute runs one command line. It returns false for "exit".
func (c *Console) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch {
	case cmd == "exit" || cmd == "quit":
		return false
	case cmd == "list":
		c.list()
	case cmd == "mode" && len(args) >= 2:
		err = c.hub.SetMode(args[0], args[1])
	case cmd == "temp" && len(args) >= 2:
		var v float64
		if v, err = parseTemp(args[1]); err == nil {
			err = c.hub.SetSingleSetpoint(args[0], v)
		}
	case cmd == "range" && len(args) >= 3:
		var heat, cool float64
		if heat, err = parseTemp(args[1]); err == nil {
			if cool, err = parseTemp(args[2]); err == nil {
				err = c.hub.SetHeatCoolRange(args[0], heat, cool)
			}
		}
	case cmd == "fan" && len(args) >= 2:
		err = c.hub.SetFanMode(args[0], args[1])
	case cmd == "preset" && len(args) >= 2:
		err = c.hub.SetPresetMode(args[0], args[1])
	case cmd == "on" && len(args) >= 1:
		err = c.hub.TurnOn(args[0])
	case cmd == "off" && len(args) >= 1:
		err = c.hub.TurnOff(args[0])
	default:
		c.println(usage)
	}

	if err != nil {
		c.logger.Debug("Console command failed", zap.String("command", cmd), zap.Error(err))
		c.println("Error: " + err.Error())
	}
	return true
}

func (c *Console) list() {
	for _, s := range c.hub.Entities() {
		c.println(fmt.Sprintf("%s '%s'  mode=%s act=%s cur=%s  tgt=%s  step=%s %s",
			s.EntityID, s.Name, s.HvacMode, s.Action, temp(s.CurrentTemperature),
			s.TargetSummary(), formatStep(s.Step), s.TemperatureUnit))
	}
}

func (c *Console) notify(n hub.Notification) {
	switch n.Kind {
	case hub.KindConnected:
		c.println("[OK] Authenticated with Home Assistant.")
	case hub.KindDisconnected:
		c.println("[INF] Disconnected.")
	case hub.KindError:
		c.println("[ERR] " + n.Message)
	case hub.KindEntityAdded:
		s := n.State
		c.println(fmt.Sprintf("[ADD] %s  name='%s'  mode=%s act=%s cur=%s tgt=%s",
			n.EntityID, s.Name, s.HvacMode, s.Action, temp(s.CurrentTemperature), s.TargetSummary()))
	case hub.KindEntityChanged:
		s := n.State
		c.println(fmt.Sprintf("[CHG] %s  mode=%s act=%s cur=%s tgt=%s",
			n.EntityID, s.HvacMode, s.Action, temp(s.CurrentTemperature), s.TargetSummary()))
	case hub.KindEntityRemoved:
		c.println("[DEL] " + n.EntityID)
	}
}

func (c *Console) println(s string) {
	c.print(s + "\n")
}

func (c *Console) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func parseTemp(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid temperature %q", s)
	}
	return v, nil
}

func temp(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func formatStep(step float64) string {
	return strconv.FormatFloat(math.Round(step*100)/100, 'f', -1, 64)
}
