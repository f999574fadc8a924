package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/KevinKickass/OpenCoupler/internal/coupler"
	"github.com/KevinKickass/OpenCoupler/internal/system"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type inventory struct {
	Address         string            `yaml:"address"`
	Identity        string            `yaml:"identity"`
	InputRegisters  uint16            `yaml:"input_registers"`
	OutputRegisters uint16            `yaml:"output_registers"`
	Modules         []inventoryModule `yaml:"modules"`
}

type inventoryModule struct {
	Index   int               `yaml:"index"`
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Inputs  map[string]string `yaml:"inputs,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Run discovery once and print the module inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *coupler.Session) error {
				if err := s.Tick(ctx); err != nil {
					return err
				}
				inv, err := buildInventory(s)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(inv)
			})
		},
	}
}

// withSession connects with the configured driver, runs fn and closes the
// session.
func withSession(ctx context.Context, fn func(context.Context, *coupler.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	codec, err := system.NewCodec(cfg.Coupler, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*cfg.Coupler.Timeout)
	defer cancel()

	s, err := system.NewConnectFunc(cfg.Coupler, codec, logger)(ctx)
	if err != nil {
		return fmt.Errorf("[%s] %w", coupler.Class(err), err)
	}
	defer s.Close()

	if err := fn(ctx, s); err != nil {
		return fmt.Errorf("[%s] %w", coupler.Class(err), err)
	}
	return nil
}

func buildInventory(s *coupler.Session) (inventory, error) {
	inputs, err := s.Inputs()
	if err != nil {
		return inventory{}, err
	}
	outputs, err := s.Outputs()
	if err != nil {
		return inventory{}, err
	}

	inv := inventory{
		Address:         s.Address(),
		Identity:        s.DiscoveredIdentity(),
		InputRegisters:  s.InputRegisterCount(),
		OutputRegisters: s.OutputRegisterCount(),
	}
	for i, m := range s.Modules() {
		inv.Modules = append(inv.Modules, inventoryModule{
			Index:   i,
			ID:      fmt.Sprintf("0x%08X", m.ID),
			Name:    m.Name,
			Inputs:  channelsOf(inputs, i),
			Outputs: channelsOf(outputs, i),
		})
	}
	return inv, nil
}

func channelsOf(values map[ur20.Address]ur20.ChannelValue, module int) map[string]string {
	var addrs []ur20.Address
	for a := range values {
		if a.Module == module {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Channel < addrs[j].Channel })

	out := make(map[string]string, len(addrs))
	for _, a := range addrs {
		out[a.String()] = values[a].String()
	}
	return out
}
