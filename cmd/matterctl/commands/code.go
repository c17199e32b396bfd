package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/backkem/matterctl/pkg/commissioning/payload"
)

func (a *app) decodeCodeCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "decode-code <code>",
		Short: "Decode a manual pairing code",
		Long: "Decode an 11 or 21 digit manual pairing code. Dashes and spaces are ignored.\n" +
			"Without --strict a wrong check digit is reported but the code is still decoded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decode := payload.DecodeManualCode
			if strict {
				decode = payload.ParseManualCode
			}
			p, err := decode(args[0])
			if err != nil {
				return err
			}
			printPayload(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject codes whose check digit does not match")
	return cmd
}

func printPayload(w io.Writer, p *payload.Payload) {
	fmt.Fprintf(w, "Discriminator: %s (advertised range %d-%d)\n",
		p.Discriminator, p.Discriminator.Long(), p.Discriminator.Long()|0xFF)
	fmt.Fprintf(w, "Passcode:      %08d\n", p.Passcode)
	fmt.Fprintf(w, "Flow:          %s\n", p.Flow)
	if p.Flow == payload.FlowCustom {
		fmt.Fprintf(w, "Vendor ID:     0x%04X\n", p.VendorID)
		fmt.Fprintf(w, "Product ID:    0x%04X\n", p.ProductID)
	}
	check := "valid"
	if !p.ChecksumValid {
		check = "INVALID"
	}
	fmt.Fprintf(w, "Check digit:   %s\n", check)
}
