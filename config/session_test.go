package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/config"
)

const validYAML = `
chdr_width: "128"
endianness: big
host_epid_base: 100
flow_control:
  freq_ratio: 0.25
links:
  - name: eth0
    kind: udp
    local_addr: 127.0.0.1:49200
    remote_addr: 127.0.0.1:49201
    num_frames: 32
    frame_size: 8960
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidSessionDescriptor(t *testing.T) {
	path := writeTemp(t, validYAML)
	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(100), s.HostEPIDBase)
	require.Len(t, s.Links, 1)
	assert.Equal(t, config.LinkKindUDP, s.Links[0].Kind)

	w, err := s.CodecWidth()
	require.NoError(t, err)
	assert.Equal(t, chdr.W128, w)

	fc := s.FlowControl.ToDefaults()
	assert.Equal(t, 0.25, fc.FreqRatio)
	assert.Equal(t, config.FlowControlConfig{}.ToDefaults().HeadroomRatio, fc.HeadroomRatio)
}

func TestLoadRejectsReservedEPIDBase(t *testing.T) {
	path := writeTemp(t, `
host_epid_base: 0
links:
  - {name: a, kind: udp, num_frames: 1, frame_size: 64}
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNoLinks(t *testing.T) {
	path := writeTemp(t, "host_epid_base: 5\nlinks: []\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownLinkKind(t *testing.T) {
	path := writeTemp(t, `
host_epid_base: 5
links:
  - {name: a, kind: carrier_pigeon, num_frames: 1, frame_size: 64}
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
