package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/backkem/matterctl/pkg/discovery"
)

func (a *app) discoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse DNS-SD for commissionable devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := discovery.NewRegistry(discovery.RegistryConfig{LoggerFactory: a.factory})
			b, err := discovery.NewBrowser(discovery.BrowserConfig{
				Registry:      registry,
				Timeout:       a.config.Discover.Timeout,
				LoggerFactory: a.factory,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			events := make(chan struct{})
			go func() {
				defer close(events)
				for {
					select {
					case ev := <-registry.Events():
						fmt.Fprintf(out, "%s %s discriminator %d\n", ev.Type, ev.Node.InstanceName, ev.Node.Discriminator)
					case <-ctx.Done():
						return
					}
				}
			}()

			err = b.Browse(ctx)
			cancel()
			<-events
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return printNodes(cmd, registry.Nodes())
		},
	}
	cmd.Flags().DurationVar(&a.config.Discover.Timeout, "timeout", a.config.Discover.Timeout, "how long to browse")
	return cmd
}

func printNodes(cmd *cobra.Command, nodes []discovery.CommissionableNode) error {
	w := cmd.OutOrStdout()
	if len(nodes) == 0 {
		fmt.Fprintln(w, "no commissionable devices found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tDISCRIMINATOR\tVENDOR\tPRODUCT\tNAME\tADDRESSES")
	for _, n := range nodes {
		addrs := make([]string, len(n.Addrs))
		for i, ip := range n.Addrs {
			addrs[i] = net.JoinHostPort(ip.String(), fmt.Sprint(n.Port))
		}
		fmt.Fprintf(tw, "%s\t%d\t0x%04X\t0x%04X\t%s\t%s\n",
			n.InstanceName, n.Discriminator, uint16(n.VendorID), n.ProductID, n.DeviceName, strings.Join(addrs, " "))
	}
	return tw.Flush()
}
