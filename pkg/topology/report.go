package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
)

// Report is a printable snapshot of the table.
type Report struct {
	Channels []ChannelReport `yaml:"channels"`
}

// ChannelReport describes one channel.
type ChannelReport struct {
	Channel int    `yaml:"channel"`
	ChipID  string `yaml:"chip_id"`
	Name    string `yaml:"name"`
	Family  string `yaml:"family,omitempty"`
	Core    string `yaml:"core,omitempty"`
}

// Report returns the table with part descriptions, scanning first if
// needed.
func (c *Cache) Report() (*Report, error) {
	entries, err := c.Entries()
	if err != nil {
		return nil, err
	}
	r := &Report{Channels: make([]ChannelReport, 0, len(entries))}
	for _, e := range entries {
		info := chipid.Lookup(e.ChipID)
		r.Channels = append(r.Channels, ChannelReport{
			Channel: int(e.Channel),
			ChipID:  fmt.Sprintf("0x%03X", e.ChipID),
			Name:    info.Name,
			Family:  info.Family,
			Core:    info.Core,
		})
	}
	return r, nil
}

// YAML encodes the report.
func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
