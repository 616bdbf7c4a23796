// Package relay mirrors the NT state onto a GPIO output, the way a ripple
// control receiver switches a boiler or heat pump contactor.
package relay

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "tariffd/internal/log"
)

// Switch turns the load on or off.
type Switch interface {
	Set(on bool) error
}

// outPin is the part of gpio.PinIO the relay needs.
type outPin interface {
	Name() string
	Out(l gpio.Level) error
}

type gpioSwitch struct {
	mu        sync.Mutex
	pin       outPin
	activeLow bool
	on        *bool
}

// NopSwitch only logs. It is used when no pin is configured or the host has
// no GPIO.
type NopSwitch struct{}

func (NopSwitch) Set(on bool) error {
	appLog.Debug("relay (no-op)", "on", on)
	return nil
}

// NewGPIOSwitch opens a periph.io pin by name (e.g. "GPIO17") and drives it
// low, i.e. the load off for an active-high relay.
func NewGPIOSwitch(name string, activeLow bool) (Switch, error) {
	if name == "" {
		return nil, errors.New("relay: pin name is empty")
	}
	if runtime.GOOS != "linux" {
		return nil, errors.New("relay: gpio unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("relay: host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("relay: pin %q not found", name)
	}
	return newSwitch(p, activeLow)
}

func newSwitch(p outPin, activeLow bool) (*gpioSwitch, error) {
	s := &gpioSwitch{pin: p, activeLow: activeLow}
	if err := s.Set(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Set drives the pin. Repeated calls with the same value do not touch the
// hardware.
func (s *gpioSwitch) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.on != nil && *s.on == on {
		return nil
	}
	level := gpio.Level(on != s.activeLow)
	if err := s.pin.Out(level); err != nil {
		return fmt.Errorf("relay: set %s: %w", s.pin.Name(), err)
	}
	s.on = &on
	appLog.Info("relay switched", "pin", s.pin.Name(), "on", on)
	return nil
}

// Default returns a GPIO switch for pin, falling back to NopSwitch when pin is
// empty or cannot be opened.
func Default(pin string, activeLow bool) Switch {
	if pin == "" {
		return NopSwitch{}
	}
	s, err := NewGPIOSwitch(pin, activeLow)
	if err != nil {
		appLog.Warn("relay unavailable, using no-op switch", "pin", pin, "error", err.Error())
		return NopSwitch{}
	}
	return s
}
