// Command autobrewd runs the brewing-rig control stack: the current
// limiter wired to the example pin table, a temperature manager polling
// 1-wire probes, a PID loop driving the boil kettle and hot liquor tank
// elements, and a valve controller. The HTTP/FastCGI command surface,
// config file loading, and dashboard output are out of scope; this is the
// control loop alone.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/autobrew/brewctl/gpio"
	"github.com/autobrew/brewctl/internal/clock"
	"github.com/autobrew/brewctl/internal/diag"
	"github.com/autobrew/brewctl/limiter"
	"github.com/autobrew/brewctl/pid"
	"github.com/autobrew/brewctl/supervisor"
	"github.com/autobrew/brewctl/thermal"
	"github.com/autobrew/brewctl/valve"
)

// Pin numbers, mA budgets, and PID gains below match the reference rig's
// example configuration (pumps, safety interlocks, valve, and the two
// controlled elements).
const (
	pinPump1      = 18
	pinPump2      = 27
	pinValve      = 22
	pinBKSafety   = 10
	pinHLTSafety  = 24
	pinBKElement  = 17
	pinHLTElement = 4

	elementPWMFrequencyHz = 20.0

	bkSensorID  = "bk"
	hltSensorID = "hlt"

	bkSetpointC  = 100.0
	hltSetpointC = 65.0
)

func main() {
	log := slog.Default()

	if err := gpio.InitHost(); err != nil {
		log.Warn("failed to init periph.io host, continuing (all pins use simulated switches)", "error", err)
	}

	lim, err := buildLimiter()
	if err != nil {
		log.Error("failed to build current limiter", "error", err)
		os.Exit(1)
	}
	defer lim.Close()

	provider := buildThermalProvider()
	tm, err := thermal.New(thermal.Config{Provider: provider}, clock.System{})
	if err != nil {
		log.Error("failed to build thermal manager", "error", err)
		os.Exit(1)
	}

	floatSwitch := gpio.NewSimSwitch()
	vc, err := valve.New(valve.Config{Limiter: lim, ValvePin: pinValve, FloatSwitch: floatSwitch})
	if err != nil {
		log.Error("failed to build valve controller", "error", err)
		os.Exit(1)
	}

	bkController := pid.New(pid.Config{
		Kp: 15.0, Ki: 1.0, Kd: 3.0,
		Setpoint:             bkSetpointC,
		MinOutput:            -100.0,
		MaxOutput:            100.0,
		ErrorAccumulationCap: 1.5,
	})
	hltController := pid.New(pid.Config{
		Kp: 15.0, Ki: 1.0, Kd: 3.0,
		Setpoint:             hltSetpointC,
		MinOutput:            -100.0,
		MaxOutput:            100.0,
		ErrorAccumulationCap: 1.5,
	})

	sup, err := supervisor.New(supervisor.Config{
		Limiter: lim,
		Thermal: tm,
		Valve:   vc,
		Loops: []supervisor.Loop{
			{Name: "bk", SensorID: thermal.SensorID{ManagerID: "onewire0", SensorID: bkSensorID}, PinNumber: pinBKElement, Controller: bkController},
			{Name: "hlt", SensorID: thermal.SensorID{ManagerID: "onewire0", SensorID: hltSensorID}, PinNumber: pinHLTElement, Controller: hltController},
		},
	})
	if err != nil {
		log.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}

	diagMgr, err := diag.New(diag.Config{
		Limiter: lim,
		Thermal: tm,
		Valve:   vc,
		PinsToProbe: []int{
			pinPump1, pinPump2, pinValve, pinBKSafety, pinHLTSafety, pinBKElement, pinHLTElement,
		},
		ProbesToCheck: []thermal.SensorID{
			{ManagerID: "onewire0", SensorID: bkSensorID},
			{ManagerID: "onewire0", SensorID: hltSensorID},
		},
	})
	if err != nil {
		log.Error("failed to build diagnostics manager", "error", err)
		os.Exit(1)
	}

	sup.Start()
	defer sup.Stop()

	if err := diagMgr.RunAll(context.Background()); err != nil {
		log.Warn("startup diagnostics reported a failure", "error", err)
	}
	for _, result := range diagMgr.GetResults() {
		log.Info("diagnostic result", "type", result.Type, "component", result.Component, "status", result.Status, "description", result.Description)
	}

	log.Info("autobrewd running")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("autobrewd shutting down")
}

// buildLimiter configures the example pin table: two pumps and the valve
// as critical non-PWM loads, two safety interlocks as critical non-PWM
// loads, and the two heating elements as non-critical PWM loads.
func buildLimiter() (*limiter.Limiter, error) {
	lim, err := limiter.New(limiter.Config{BaseMilliAmps: 500, MaxMilliAmps: 50000})
	if err != nil {
		return nil, err
	}

	pins := []struct {
		cfg limiter.PinConfiguration
	}{
		{limiter.PinConfiguration{Name: "Pump 1", ID: "p1", PinNumber: pinPump1, MilliAmps: 1400, Critical: true}},
		{limiter.PinConfiguration{Name: "Pump 2", ID: "p2", PinNumber: pinPump2, MilliAmps: 1400, Critical: true}},
		{limiter.PinConfiguration{Name: "Valve 1", ID: "valve1", PinNumber: pinValve, MilliAmps: 200, Critical: true}},
		{limiter.PinConfiguration{Name: "BK Element Safety", ID: "bk_safety", PinNumber: pinBKSafety, MilliAmps: 34, Critical: true}},
		{limiter.PinConfiguration{Name: "HLT Element Safety", ID: "hlt_safety", PinNumber: pinHLTSafety, MilliAmps: 34, Critical: true}},
		{limiter.PinConfiguration{Name: "BK Element", ID: "bk", PinNumber: pinBKElement, MilliAmps: 23000, PWM: true, PWMFrequencyHz: elementPWMFrequencyHz}},
		{limiter.PinConfiguration{Name: "HLT Element", ID: "hlt", PinNumber: pinHLTElement, MilliAmps: 23000, PWM: true, PWMFrequencyHz: elementPWMFrequencyHz}},
	}

	for _, p := range pins {
		if err := lim.AddPinConfiguration(p.cfg, gpio.NewSimSwitch()); err != nil {
			return nil, err
		}
	}

	for _, pin := range []int{pinPump1, pinPump2, pinValve, pinBKSafety, pinHLTSafety} {
		if err := lim.EnablePin(pin); err != nil {
			return nil, err
		}
	}

	return lim, nil
}

// buildThermalProvider returns a simulated 1-wire provider pre-populated
// with the two controlled probes. A real deployment targeting a board with
// a 1-wire bus built with the tinygo build tag substitutes
// thermal.NewOneWireProvider instead.
func buildThermalProvider() *thermal.SimProvider {
	provider := thermal.NewSimProvider(clock.System{})
	provider.AddSensor(thermal.SensorID{ManagerID: "onewire0", SensorID: bkSensorID}, 20000)
	provider.AddSensor(thermal.SensorID{ManagerID: "onewire0", SensorID: hltSensorID}, 20000)
	return provider
}
