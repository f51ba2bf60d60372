// Command chdrctl is a thin operator CLI over the CHDR transport core:
// discover a device's topology, program a route between two stream
// endpoints, or open a data stream and report once it is ready.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/config"
	"github.com/ettus-go/rfnoc-chdr/graph"
	"github.com/ettus-go/rfnoc-chdr/mgmt"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

// mgmtTimeout bounds a single discovery probe/write transaction.
const mgmtTimeout = 500 * time.Millisecond

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chdrctl",
		Short: "Operate an RFNoC CHDR device's transport and management plane",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "session.yaml", "path to the session descriptor")
	root.AddCommand(newDiscoverCmd(), newRouteCmd(), newStreamCmd())
	return root
}

func buildPortal(link transport.Link, codec chdr.Codec, width chdr.Width, epidBase uint16, log *zap.Logger) (*mgmt.Portal, error) {
	sender := graph.NewManagementSender(link, codec, width, mgmtTimeout)
	return mgmt.NewPortal(sender, mgmt.PhysAddr{}, epidBase, log)
}

func buildSession() (config.Session, *zap.Logger, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return config.Session{}, nil, err
	}
	sess, err := config.Load(configPath)
	if err != nil {
		return config.Session{}, nil, err
	}
	return sess, log, nil
}

// firstUDPLink opens the first UDP-kind link in the session descriptor;
// chdrctl's CLI surface only exercises real single-sided sockets. The
// simulated DPDK pair link needs two cooperating endpoints and is wired
// only from tests, never from this operator-facing entry point.
func firstUDPLink(sess config.Session, log *zap.Logger) (transport.Link, error) {
	for _, l := range sess.Links {
		if l.Kind != config.LinkKindUDP {
			continue
		}
		return transport.NewUDPLink(transport.UDPLinkParams{
			LocalAddr:  l.LocalAddr,
			RemoteAddr: l.RemoteAddr,
			NumFrames:  l.NumFrames,
			FrameSize:  l.FrameSize,
			DSCP:       l.DSCP,
		}, log)
	}
	return nil, fmt.Errorf("session descriptor has no udp link configured")
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Walk the device's crossbar topology and list discovered stream endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, log, err := buildSession()
			if err != nil {
				return err
			}
			defer log.Sync()

			link, err := firstUDPLink(sess, log)
			if err != nil {
				return err
			}
			defer link.Close()

			codec, err := sess.Codec()
			if err != nil {
				return err
			}
			w, err := sess.CodecWidth()
			if err != nil {
				return err
			}
			portal, err := buildPortal(link, codec, w, sess.HostEPIDBase, log)
			if err != nil {
				return err
			}
			if err := portal.DiscoverTopology(); err != nil {
				return err
			}
			fmt.Printf("discovered %d stream endpoint(s)\n", portal.SEPCount())
			return nil
		},
	}
}

func newRouteCmd() *cobra.Command {
	var srcEPID, dstEPID uint16
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Program a crossbar route between two stream endpoint EPIDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, log, err := buildSession()
			if err != nil {
				return err
			}
			defer log.Sync()

			link, err := firstUDPLink(sess, log)
			if err != nil {
				return err
			}
			defer link.Close()

			codec, err := sess.Codec()
			if err != nil {
				return err
			}
			w, err := sess.CodecWidth()
			if err != nil {
				return err
			}
			portal, err := buildPortal(link, codec, w, sess.HostEPIDBase, log)
			if err != nil {
				return err
			}
			if err := portal.DiscoverTopology(); err != nil {
				return err
			}
			if err := portal.ProgramRoute(srcEPID, dstEPID); err != nil {
				return err
			}
			fmt.Printf("programmed route %d -> %d\n", srcEPID, dstEPID)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&srcEPID, "src-epid", 0, "source endpoint EPID")
	cmd.Flags().Uint16Var(&dstEPID, "dst-epid", 0, "destination endpoint EPID")
	return cmd
}

func newStreamCmd() *cobra.Command {
	var deviceID uint32
	var setupTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Open a host-to-device data stream and report setup status",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, log, err := buildSession()
			if err != nil {
				return err
			}
			defer log.Sync()

			link, err := firstUDPLink(sess, log)
			if err != nil {
				return err
			}
			defer link.Close()

			codec, err := sess.Codec()
			if err != nil {
				return err
			}
			w, err := sess.CodecWidth()
			if err != nil {
				return err
			}
			portal, err := buildPortal(link, codec, w, sess.HostEPIDBase, log)
			if err != nil {
				return err
			}
			if err := portal.DiscoverTopology(); err != nil {
				return err
			}

			mgr := graph.NewManager(link, codec, portal, sess.HostEPIDBase, 8, sess.FlowControl.ToDefaults(), log)
			ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
			defer cancel()
			tx, err := mgr.CreateHostToDeviceDataStream(ctx, mgmt.PhysAddr{DeviceID: deviceID}, setupTimeout)
			if err != nil {
				return err
			}
			_ = tx
			fmt.Printf("stream to device %d ready\n", deviceID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&deviceID, "device-id", 0, "target device ID")
	cmd.Flags().DurationVar(&setupTimeout, "setup-timeout", 2*time.Second, "stream setup handshake timeout")
	return cmd
}
