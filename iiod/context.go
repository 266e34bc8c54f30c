package iiod

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// IIOContext is the parsed XML context document. The schema follows actual
// PlutoSDR firmware output (v0.25 through v0.38); fields absent on older
// daemons simply stay empty.
type IIOContext struct {
	XMLName      xml.Name      `xml:"context"`
	Name         string        `xml:"name,attr"`
	VersionMajor string        `xml:"version-major,attr"`
	VersionMinor string        `xml:"version-minor,attr"`
	VersionGit   string        `xml:"version-git,attr"`
	Description  string        `xml:"description,attr"`
	Attributes   []ContextAttr `xml:"context-attribute"`
	Devices      []Device      `xml:"device"`
}

// ContextAttr is a context-level key/value pair (firmware build info and the
// like).
type ContextAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Device is one IIO device entry.
type Device struct {
	ID       string      `xml:"id,attr"`
	Name     string      `xml:"name,attr"`
	Label    string      `xml:"label,attr"`
	Channels []Channel   `xml:"channel"`
	Attrs    []NamedAttr `xml:"attribute"`
}

// Channel is one device channel; Type is "input" or "output".
type Channel struct {
	ID    string       `xml:"id,attr"`
	Name  string       `xml:"name,attr"`
	Type  string       `xml:"type,attr"`
	Attrs []NamedAttr  `xml:"attribute"`
	Scan  *ScanElement `xml:"scan-element"`
}

// NamedAttr is a device or channel attribute descriptor.
type NamedAttr struct {
	Name     string `xml:"name,attr"`
	Filename string `xml:"filename,attr"`
}

// ScanElement marks a channel that participates in buffered streaming; Index
// gives its position in the interleaved sample layout.
type ScanElement struct {
	Index  int    `xml:"index,attr"`
	Format string `xml:"format,attr"`
}

// ParseContext parses a raw XML context document.
func ParseContext(raw []byte) (*IIOContext, error) {
	var doc IIOContext
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if len(doc.Devices) == 0 {
		return nil, fmt.Errorf("context lists no devices")
	}
	return &doc, nil
}

// Version renders the daemon version attributes as one string.
func (c *IIOContext) Version() string {
	v := c.VersionMajor + "." + c.VersionMinor
	if c.VersionGit != "" {
		v += " (" + c.VersionGit + ")"
	}
	return v
}

// FindDevice locates a device by ID or name.
func (c *IIOContext) FindDevice(idOrName string) (*Device, bool) {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ID == idOrName || d.Name == idOrName {
			return d, true
		}
	}
	return nil, false
}

// Channel locates a channel on the device by ID. When dir is non-empty the
// channel type must match it; AD936x devices reuse IDs like voltage0 across
// input and output.
func (d *Device) Channel(id, dir string) (*Channel, bool) {
	for i := range d.Channels {
		ch := &d.Channels[i]
		if ch.ID != id {
			continue
		}
		if dir != "" && ch.Type != dir {
			continue
		}
		return ch, true
	}
	return nil, false
}

// HasChannelAttr reports whether the channel advertises the named attribute.
func (ch *Channel) HasChannelAttr(name string) bool {
	for _, a := range ch.Attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ScanChannels returns the device's buffered channels of the given direction
// ordered by scan index. This order defines the interleave layout of stream
// buffers.
func (d *Device) ScanChannels(dir string) []Channel {
	out := make([]Channel, 0, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.Scan == nil {
			continue
		}
		if dir != "" && ch.Type != dir {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scan.Index < out[j].Scan.Index })
	return out
}

// DescriptionShort trims the long firmware description to its first clause
// for log banners.
func (c *IIOContext) DescriptionShort() string {
	s := c.Description
	if i := strings.IndexAny(s, ",;"); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
