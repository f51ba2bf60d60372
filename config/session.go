// Package config decodes a YAML session descriptor describing the links,
// CHDR wire parameters, and flow-control defaults a chdrctl invocation
// should use.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
	"github.com/ettus-go/rfnoc-chdr/xport"
)

// LinkKind names which concrete transport.Link implementation a LinkConfig
// describes.
type LinkKind string

const (
	LinkKindUDP  LinkKind = "udp"
	LinkKindDPDK LinkKind = "dpdk"
)

// LinkConfig describes one configured link endpoint.
type LinkConfig struct {
	Name       string   `yaml:"name"`
	Kind       LinkKind `yaml:"kind"`
	LocalAddr  string   `yaml:"local_addr"`
	RemoteAddr string   `yaml:"remote_addr"`
	NumFrames  int      `yaml:"num_frames"`
	FrameSize  int      `yaml:"frame_size"`
	DSCP       int      `yaml:"dscp"`
}

// FlowControlConfig mirrors xport.FlowControlDefaults in a YAML-friendly
// shape, defaulting to the values spec.md section 9 resolved.
type FlowControlConfig struct {
	FreqRatio     float64 `yaml:"freq_ratio"`
	HeadroomRatio float64 `yaml:"headroom_ratio"`
}

// ToDefaults converts the decoded config into xport.FlowControlDefaults,
// substituting the documented defaults for any zero value left unset.
func (f FlowControlConfig) ToDefaults() xport.FlowControlDefaults {
	d := xport.DefaultFlowControl
	if f.FreqRatio != 0 {
		d.FreqRatio = f.FreqRatio
	}
	if f.HeadroomRatio != 0 {
		d.HeadroomRatio = f.HeadroomRatio
	}
	return d
}

// Session is the top-level YAML session descriptor.
type Session struct {
	Width        string            `yaml:"chdr_width"`
	Endianness   string            `yaml:"endianness"`
	HostEPIDBase uint16            `yaml:"host_epid_base"`
	Links        []LinkConfig      `yaml:"links"`
	FlowControl  FlowControlConfig `yaml:"flow_control"`
}

// Load reads and parses a session descriptor from path.
func Load(path string) (Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Session{}, chdrerr.Wrap(chdrerr.Config, "CONFIG_READ_FAILED", err)
	}
	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Session{}, chdrerr.Wrap(chdrerr.Config, "CONFIG_PARSE_FAILED", err)
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate enforces the session descriptor's structural requirements: at
// least one link, a recognized width/endianness pair, and a non-reserved
// EPID base.
func (s Session) Validate() error {
	if len(s.Links) == 0 {
		return chdrerr.New(chdrerr.Config, "CONFIG_NO_LINKS", "session descriptor must configure at least one link")
	}
	if _, err := s.Codec(); err != nil {
		return err
	}
	if s.HostEPIDBase == 0 || s.HostEPIDBase == 0xFFFF {
		return chdrerr.New(chdrerr.Config, "CONFIG_BAD_EPID_BASE", "host_epid_base cannot be a reserved value")
	}
	for _, l := range s.Links {
		if l.Kind != LinkKindUDP && l.Kind != LinkKindDPDK {
			return chdrerr.New(chdrerr.Config, "CONFIG_BAD_LINK_KIND", fmt.Sprintf("link %q: unrecognized kind %q", l.Name, l.Kind))
		}
		if l.NumFrames <= 0 || l.FrameSize <= 0 {
			return chdrerr.New(chdrerr.Config, "CONFIG_BAD_LINK_DIMENSIONS", fmt.Sprintf("link %q: num_frames and frame_size must be positive", l.Name))
		}
	}
	return nil
}

// CodecWidth resolves the configured chdr_width string into a chdr.Width.
func (s Session) CodecWidth() (chdr.Width, error) {
	switch s.Width {
	case "", "64":
		return chdr.W64, nil
	case "128":
		return chdr.W128, nil
	case "256":
		return chdr.W256, nil
	case "512":
		return chdr.W512, nil
	default:
		return 0, chdrerr.New(chdrerr.Config, "CONFIG_BAD_WIDTH", fmt.Sprintf("unrecognized chdr_width %q", s.Width))
	}
}

// Codec builds the chdr.Codec this session's width/endianness configures.
func (s Session) Codec() (chdr.Codec, error) {
	w, err := s.CodecWidth()
	if err != nil {
		return chdr.Codec{}, err
	}
	switch s.Endianness {
	case "", "big":
		return chdr.NewCodec(w, chdr.BigEndian)
	case "little":
		return chdr.NewCodec(w, chdr.LittleEndian)
	default:
		return chdr.Codec{}, chdrerr.New(chdrerr.Config, "CONFIG_BAD_ENDIANNESS", fmt.Sprintf("unrecognized endianness %q", s.Endianness))
	}
}
