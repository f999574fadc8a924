package main

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenCoupler/internal/coupler"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/spf13/cobra"
)

func newSetCmd() *cobra.Command {
	var (
		module  int
		channel int
		value   string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write a single output channel and run one cycle",
		Example: `  couplerd set -a 192.168.1.10:502 --module 1 --channel 0 --value true
  couplerd set -a 192.168.1.10:502 --module 2 --channel 1 --value 0x4000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ur20.Address{Module: module, Channel: channel}
			return withSession(cmd.Context(), func(ctx context.Context, s *coupler.Session) error {
				val, err := parseOutputValue(s, addr, value)
				if err != nil {
					return err
				}
				if err := s.SetOutput(addr, val); err != nil {
					return err
				}
				if err := s.Tick(ctx); err != nil {
					return err
				}
				fmt.Printf("%s = %s\n", addr, val)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&module, "module", 0, "module index")
	cmd.Flags().IntVar(&channel, "channel", 0, "channel index")
	cmd.Flags().StringVar(&value, "value", "", "value to write (bool for digital, integer for analog)")
	cmd.MarkFlagRequired("value")

	return cmd
}

// parseOutputValue parses raw with the kind of the addressed output channel.
func parseOutputValue(s *coupler.Session, addr ur20.Address, raw string) (ur20.ChannelValue, error) {
	outputs, err := s.Outputs()
	if err != nil {
		return ur20.ChannelValue{}, err
	}
	current, ok := outputs[addr]
	if !ok {
		return ur20.ChannelValue{}, fmt.Errorf("no output channel %s: %w", addr, coupler.ErrValidation)
	}
	val, err := ur20.ParseValue(current.Kind, raw)
	if err != nil {
		return ur20.ChannelValue{}, fmt.Errorf("%w: %w", coupler.ErrValidation, err)
	}
	return val, nil
}
