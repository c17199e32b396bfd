package commands

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backkem/matterctl/internal/devicesim"
	"github.com/backkem/matterctl/pkg/commissioning/payload"
	"github.com/backkem/matterctl/pkg/discovery"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/im"
	"github.com/backkem/matterctl/pkg/transport"
)

func (a *app) simulateCommand() *cobra.Command {
	var failures []string
	s := &a.config.Simulate
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated commissionable device on UDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			failing, err := parseFailures(failures)
			if err != nil {
				return err
			}
			dev, err := devicesim.New(devicesim.Config{
				Passcode:      s.Passcode,
				Discriminator: s.Discriminator,
				VendorID:      fabric.VendorID(s.VendorID),
				ProductID:     s.ProductID,
				DeviceName:    s.DeviceName,
				Thread:        s.Thread,
				VisibleSSIDs:  s.VisibleSSIDs,
				Failures:      failing,
				LoggerFactory: a.factory,
			})
			if err != nil {
				return err
			}
			code, err := payload.EncodeManualCode(&payload.Payload{
				Discriminator: payload.LongDiscriminator(s.Discriminator),
				Passcode:      s.Passcode,
			})
			if err != nil {
				return err
			}

			udp := transport.NewUDP(transport.UDPConfig{ListenAddr: s.Listen, LoggerFactory: a.factory})
			ctx := cmd.Context()
			if err := udp.Open(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Listening:     %s\n", udp.LocalAddr())
			fmt.Fprintf(out, "Discriminator: %d\n", s.Discriminator)
			fmt.Fprintf(out, "Passcode:      %08d\n", s.Passcode)
			fmt.Fprintf(out, "Manual code:   %s\n", code)

			if s.Advertise {
				_, port, err := net.SplitHostPort(udp.LocalAddr().String())
				if err != nil {
					udp.Close()
					return err
				}
				portNum, _ := strconv.Atoi(port)
				adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Port: portNum, LoggerFactory: a.factory})
				instance, err := adv.Start(dev.TXT())
				if err != nil {
					udp.Close()
					return err
				}
				defer adv.Stop()
				fmt.Fprintf(out, "Instance:      %s\n", instance)
			}

			err = dev.Serve(ctx, udp)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&s.Listen, "listen", s.Listen, "UDP listen address")
	flags.Uint32Var(&s.Passcode, "passcode", s.Passcode, "setup passcode")
	flags.Uint16Var(&s.Discriminator, "discriminator", s.Discriminator, "12-bit discriminator")
	flags.Uint16Var(&s.VendorID, "vendor-id", s.VendorID, "vendor id")
	flags.Uint16Var(&s.ProductID, "product-id", s.ProductID, "product id")
	flags.StringVar(&s.DeviceName, "name", s.DeviceName, "advertised device name")
	flags.BoolVar(&s.Thread, "thread", s.Thread, "simulate a Thread device instead of Wi-Fi")
	flags.StringSliceVar(&s.VisibleSSIDs, "ssid", s.VisibleSSIDs, "SSIDs reported by a Wi-Fi scan")
	flags.BoolVar(&s.Advertise, "advertise", s.Advertise, "announce the device over DNS-SD")
	flags.StringSliceVar(&failures, "fail", nil, "answer cluster/command (e.g. 0x3e/0x06) with a failure status")
	return cmd
}

// parseFailures turns cluster/command pairs into endpoint 0 paths failing
// with StatusFailure.
func parseFailures(specs []string) (map[im.CommandPath]im.Status, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	failures := make(map[im.CommandPath]im.Status, len(specs))
	for _, spec := range specs {
		clusterStr, commandStr, ok := strings.Cut(spec, "/")
		if !ok {
			return nil, fmt.Errorf("--fail %q: want cluster/command", spec)
		}
		cluster, err := strconv.ParseUint(clusterStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("--fail %q: cluster: %w", spec, err)
		}
		command, err := strconv.ParseUint(commandStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("--fail %q: command: %w", spec, err)
		}
		path := im.CommandPath{Cluster: im.ClusterID(cluster), Command: im.CommandID(command)}
		failures[path] = im.StatusFailure
	}
	return failures, nil
}
