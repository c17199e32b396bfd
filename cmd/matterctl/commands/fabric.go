package commands

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/matterctl/pkg/credentials"
	"github.com/backkem/matterctl/pkg/fabric"
)

func (a *app) fabricCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fabric",
		Short: "Create and inspect fabrics",
	}
	cmd.AddCommand(a.fabricInitCommand(), a.fabricShowCommand(), a.fabricListCommand())
	return cmd
}

func (a *app) fabricInitCommand() *cobra.Command {
	var (
		id     uint64
		vendor uint16
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a fabric with a new root certificate authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			name := a.config.Fabric
			exists, err := store.FabricExists(name)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("fabric %q already exists (use --force to replace it)", name)
			}
			if id == 0 {
				if id, err = randomFabricID(); err != nil {
					return err
				}
			}

			ca, err := credentials.NewMemoryCA(id)
			if err != nil {
				return err
			}
			f, err := fabric.New(name, fabric.FabricID(id), fabric.VendorID(vendor))
			if err != nil {
				return err
			}
			f.RootCert = ca.RootCertificate().Raw
			if f.CAKey, err = ca.MarshalKey(); err != nil {
				return err
			}
			if err := store.SaveFabric(f); err != nil {
				return err
			}
			if a.log != nil {
				a.log.Infof("created fabric %q in %s", name, a.config.Store)
			}
			return printFabric(cmd, f)
		},
	}
	cmd.Flags().Uint64Var(&id, "fabric-id", 0, "fabric id (default random)")
	cmd.Flags().Uint16Var(&vendor, "vendor-id", uint16(fabric.VendorIDTest), "administrator vendor id")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing fabric of the same name")
	return cmd
}

func (a *app) fabricShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print a fabric and its nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			f, err := store.LoadFabric(a.config.Fabric)
			if err != nil {
				return err
			}
			return printFabric(cmd, f)
		},
	}
}

func (a *app) fabricListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored fabrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			names, err := store.Names()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func printFabric(cmd *cobra.Command, f *fabric.Fabric) error {
	w := cmd.OutOrStdout()
	compressed, err := f.CompressedID()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Fabric:        %s\n", f.Name)
	fmt.Fprintf(w, "Fabric ID:     %s\n", f.ID)
	fmt.Fprintf(w, "Compressed ID: %s\n", hex.EncodeToString(compressed[:]))
	fmt.Fprintf(w, "Vendor ID:     0x%04X\n", uint16(f.VendorID))
	fmt.Fprintf(w, "Nodes:         %d\n", len(f.Nodes))
	if len(f.Nodes) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nNODE ID\tADDRESS\tDISCRIMINATOR\tCOMMISSIONED")
	for _, id := range f.NodeIDs() {
		n := f.Nodes[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", n.ID, n.Address, n.Discriminator, n.CommissionedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func randomFabricID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if id := binary.BigEndian.Uint64(b[:]); fabric.FabricID(id).IsValid() {
			return id, nil
		}
	}
}
