// Package commands implements the matterctl command line.
package commands

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/backkem/matterctl/pkg/credentials"
	"github.com/backkem/matterctl/pkg/fabric"
)

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	config     Config
	factory    logging.LoggerFactory
	log        logging.LeveledLogger
}

// NewRootCommand builds the matterctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{config: DefaultConfig()}
	root := &cobra.Command{
		Use:               "matterctl",
		Short:             "Commission devices into a fabric and inspect pairing codes",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.config.LogLevel, "log-level", a.config.LogLevel, "disabled, error, warn, info, debug or trace")
	flags.StringVar(&a.config.Store, "store", a.config.Store, "fabric database")
	flags.StringVar(&a.config.Fabric, "fabric", a.config.Fabric, "fabric name")

	root.AddCommand(
		a.decodeCodeCommand(),
		a.fabricCommand(),
		a.commissionCommand(),
		a.simulateCommand(),
		a.discoverCommand(),
	)
	return root
}

// setup loads the configuration file, puts back the values of flags set
// on the command line and builds the logger factory.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		type setFlag struct {
			flag  *pflag.Flag
			value string
			slice []string
		}
		var set []setFlag
		cmd.Flags().Visit(func(f *pflag.Flag) {
			s := setFlag{flag: f, value: f.Value.String()}
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				s.slice = sv.GetSlice()
			}
			set = append(set, s)
		})

		config, err := LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.config = config

		for _, s := range set {
			if sv, ok := s.flag.Value.(pflag.SliceValue); ok {
				err = sv.Replace(s.slice)
			} else {
				err = s.flag.Value.Set(s.value)
			}
			if err != nil {
				return fmt.Errorf("--%s: %w", s.flag.Name, err)
			}
		}
	}

	level, err := parseLogLevel(a.config.LogLevel)
	if err != nil {
		return err
	}
	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = cmd.ErrOrStderr()
	factory.DefaultLogLevel = level
	a.factory = factory
	a.log = factory.NewLogger("matterctl")
	return nil
}

func (a *app) openStore() (*fabric.BoltStore, error) {
	return fabric.OpenBoltStore(a.config.Store)
}

// loadFabric opens the store and loads the configured fabric with its
// certificate authority. The caller closes the store.
func (a *app) loadFabric() (*fabric.BoltStore, *fabric.Fabric, *credentials.MemoryCA, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := store.LoadFabric(a.config.Fabric)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("%w (run \"matterctl fabric init\" first)", err)
	}
	ca, err := credentials.LoadMemoryCA(uint64(f.ID), f.CAKey, f.RootCert)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("fabric %q: %w", f.Name, err)
	}
	return store, f, ca, nil
}
