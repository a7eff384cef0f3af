//go:build tinygo

package thermal

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/drivers/onewire"
)

// OneWireProvider is a SensorProvider backed by a real 1-wire bus (DS18B20
// class probes), for TinyGo builds targeting a microcontroller with a bus
// peripheral. Host builds use SimProvider instead, since periph.io/the
// Linux host target in this module has no native 1-wire driver in the
// retrieved dependency set.
type OneWireProvider struct {
	managerID string
	bus       *onewire.OneWire
}

// NewOneWireProvider wraps an already-initialized 1-wire bus.
func NewOneWireProvider(managerID string, bus *onewire.OneWire) *OneWireProvider {
	return &OneWireProvider{managerID: managerID, bus: bus}
}

// ListSensors implements SensorProvider by performing a bus search for
// device ROM codes.
func (p *OneWireProvider) ListSensors(ctx context.Context) ([]SensorID, error) {
	roms, err := p.bus.Search(onewire.SearchRom)
	if err != nil {
		return nil, fmt.Errorf("thermal: onewire search failed: %w", err)
	}

	out := make([]SensorID, 0, len(roms))
	for _, rom := range roms {
		out = append(out, SensorID{ManagerID: p.managerID, SensorID: fmt.Sprintf("%x", rom)})
	}
	return out, nil
}

// ReadTemperature implements SensorProvider by issuing a DS18B20-style
// convert + scratchpad read sequence.
func (p *OneWireProvider) ReadTemperature(ctx context.Context, id SensorID) (int64, int64, error) {
	rom, err := parseRomCode(id.SensorID)
	if err != nil {
		return 0, 0, err
	}

	if err := p.bus.Reset(); err != nil {
		return 0, 0, fmt.Errorf("thermal: onewire reset failed: %w", err)
	}
	p.bus.MatchRom(rom)
	p.bus.WriteByte(0x44) // Convert T
	time.Sleep(750 * time.Millisecond)

	if err := p.bus.Reset(); err != nil {
		return 0, 0, fmt.Errorf("thermal: onewire reset failed: %w", err)
	}
	p.bus.MatchRom(rom)
	p.bus.WriteByte(0xBE) // Read Scratchpad

	scratch := make([]byte, 9)
	for i := range scratch {
		scratch[i] = p.bus.ReadByte()
	}

	raw := int16(scratch[0]) | int16(scratch[1])<<8
	milliCelsius := int64(raw) * 1000 / 16

	return milliCelsius, time.Now().UnixMilli(), nil
}

func parseRomCode(s string) ([8]byte, error) {
	var rom [8]byte
	if len(s) != 16 {
		return rom, fmt.Errorf("thermal: malformed rom code %q", s)
	}
	for i := 0; i < 8; i++ {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return rom, fmt.Errorf("thermal: malformed rom code %q: %w", s, err)
		}
		rom[i] = b
	}
	return rom, nil
}
