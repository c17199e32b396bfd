package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backkem/matterctl/internal/devicesim"
	"github.com/backkem/matterctl/pkg/btp"
	"github.com/backkem/matterctl/pkg/commissioning"
	"github.com/backkem/matterctl/pkg/commissioning/payload"
	"github.com/backkem/matterctl/pkg/discovery"
	"github.com/backkem/matterctl/pkg/fabric"
	"github.com/backkem/matterctl/pkg/transport"
)

func (a *app) commissionCommand() *cobra.Command {
	var (
		code        string
		address     string
		bleLoopback bool
		nodeID      uint64
	)
	c := &a.config.Commission
	cmd := &cobra.Command{
		Use:   "commission",
		Short: "Commission a device into the fabric",
		Long: "Commission the device identified by a manual pairing code. The device is reached\n" +
			"at --address, found by DNS-SD when no address is given, or simulated in process\n" +
			"behind an in-memory BLE link with --ble-loopback.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := payload.ParseManualCode(code)
			if err != nil {
				return err
			}
			network, err := c.Network()
			if err != nil {
				return err
			}
			store, f, ca, err := a.loadFabric()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			commissioner, err := commissioning.NewCommissioner(commissioning.Config{
				CA:             ca,
				Fabric:         f,
				Store:          store,
				Network:        network,
				AdminSubject:   c.AdminSubject,
				Timeout:        c.Timeout,
				StepTimeout:    c.StepTimeout,
				FailSafeExpiry: c.FailSafeExpiry,
				OnStateChanged: func(id fabric.NodeID, s commissioning.State) {
					fmt.Fprintf(out, "node %s: %s\n", id, s)
				},
				LoggerFactory: a.factory,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			target := commissioning.Target{
				Passcode:      p.Passcode,
				Discriminator: p.Discriminator.Long(),
				VendorID:      fabric.VendorID(p.VendorID),
				ProductID:     p.ProductID,
				NodeID:        fabric.NodeID(nodeID),
			}
			switch {
			case bleLoopback:
				tr, stop, err := a.bleLoopback(ctx, p, network)
				if err != nil {
					return err
				}
				defer stop()
				target.Transport, target.Address = tr, "ble-loopback"
			default:
				if address == "" {
					if address, err = a.find(ctx, p.Discriminator); err != nil {
						return err
					}
				}
				tr, err := transport.DialUDP(address, transport.UDPConfig{LoggerFactory: a.factory})
				if err != nil {
					return err
				}
				target.Transport, target.Address = tr, address
			}

			node, err := commissioner.Commission(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "commissioned node %s into fabric %q\n", node.ID, f.Name)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&code, "code", "", "manual pairing code")
	flags.StringVar(&address, "address", "", "device host:port (default: discover by discriminator)")
	flags.BoolVar(&bleLoopback, "ble-loopback", false, "commission an in-process simulated device over BLE")
	flags.Uint64Var(&nodeID, "node-id", 0, "node id to assign (default: next free)")
	flags.DurationVar(&c.Timeout, "timeout", c.Timeout, "bound on the whole run")
	flags.DurationVar(&c.StepTimeout, "step-timeout", c.StepTimeout, "bound on each step")
	flags.DurationVar(&c.FailSafeExpiry, "fail-safe", c.FailSafeExpiry, "fail-safe armed on the device")
	flags.Uint64Var(&c.AdminSubject, "admin-subject", c.AdminSubject, "CASE admin subject installed on the device")
	flags.StringVar(&c.WiFiSSID, "wifi-ssid", c.WiFiSSID, "Wi-Fi network to join")
	flags.StringVar(&c.WiFiPassword, "wifi-password", c.WiFiPassword, "Wi-Fi passphrase")
	flags.StringVar(&c.ThreadDataset, "thread-dataset", c.ThreadDataset, "Thread operational dataset (hex)")
	cmd.MarkFlagRequired("code")
	return cmd
}

// find browses DNS-SD for a commissionable device matching d.
func (a *app) find(ctx context.Context, d payload.Discriminator) (string, error) {
	b, err := discovery.NewBrowser(discovery.BrowserConfig{
		Timeout:       a.config.Discover.Timeout,
		LoggerFactory: a.factory,
	})
	if err != nil {
		return "", err
	}
	n, err := b.Find(ctx, d)
	if err != nil {
		return "", fmt.Errorf("discover discriminator %s: %w", d, err)
	}
	if a.log != nil {
		a.log.Infof("found %s (%s) at %s", n.InstanceName, n.DeviceName, n.Address())
	}
	return n.Address(), nil
}

// bleLoopback starts a simulated device for p behind a BTP link over an
// in-memory pipe and returns the central end of the link.
func (a *app) bleLoopback(ctx context.Context, p *payload.Payload, network *commissioning.NetworkCredentials) (transport.Transport, func(), error) {
	config := devicesim.Config{
		Passcode:      p.Passcode,
		Discriminator: p.Discriminator.Long(),
		VendorID:      fabric.VendorID(p.VendorID),
		ProductID:     p.ProductID,
		LoggerFactory: a.factory,
	}
	if network != nil {
		if len(network.ThreadDataset) > 0 {
			config.Thread = true
		} else {
			config.VisibleSSIDs = []string{network.WiFiSSID}
		}
	}
	dev, err := devicesim.New(config)
	if err != nil {
		return nil, nil, err
	}

	pipe := transport.NewPipe()
	btpConfig := btp.Config{LoggerFactory: a.factory}
	type accepted struct {
		conn *btp.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := btp.Accept(ctx, btp.NewConnLink(pipe.Conn1()), btpConfig)
		ch <- accepted{conn, err}
	}()
	central, err := btp.Dial(ctx, btp.NewConnLink(pipe.Conn0()), btpConfig)
	peripheral := <-ch
	if err = errors.Join(err, peripheral.err); err != nil {
		if central != nil {
			central.Close()
		}
		if peripheral.conn != nil {
			peripheral.conn.Close()
		}
		pipe.Close()
		return nil, nil, fmt.Errorf("ble loopback: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dev.Serve(ctx, peripheral.conn); err != nil && a.log != nil && ctx.Err() == nil {
			a.log.Debugf("simulated device: %v", err)
		}
	}()
	stop := func() {
		cancel()
		<-done
		pipe.Close()
	}
	return central, stop, nil
}
