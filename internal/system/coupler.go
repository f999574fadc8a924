package system

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenCoupler/internal/config"
	"github.com/KevinKickass/OpenCoupler/internal/coupler"
	"github.com/KevinKickass/OpenCoupler/internal/modbus"
	"github.com/KevinKickass/OpenCoupler/internal/poller"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"go.uber.org/zap"
)

// NewCodec loads the module catalog, including the configured extra files.
func NewCodec(cfg config.CouplerConfig, logger *zap.Logger) (coupler.Codec, error) {
	catalog, err := ur20.LoadCatalog(cfg.CatalogPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to load module catalog: %w", err)
	}
	logger.Info("Module catalog loaded",
		zap.Int("modules", len(catalog.Modules())),
		zap.Strings("search_paths", cfg.CatalogPaths))
	return coupler.NewUR20Codec(ur20.NewCodec(catalog)), nil
}

// NewDialer opens transports with the configured Modbus driver.
func NewDialer(cfg config.CouplerConfig) coupler.Dialer {
	return func(ctx context.Context, address string) (coupler.Transport, error) {
		conn, err := modbus.Dial(ctx, modbus.Options{
			Driver:  cfg.Driver,
			Address: address,
			UnitID:  uint8(cfg.UnitID),
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// NewConnectFunc connects to the configured coupler and runs discovery.
func NewConnectFunc(cfg config.CouplerConfig, codec coupler.Codec, logger *zap.Logger) poller.ConnectFunc {
	dial := NewDialer(cfg)
	return func(ctx context.Context) (*coupler.Session, error) {
		logger.Info("Connecting to coupler",
			zap.String("address", cfg.Address),
			zap.String("driver", cfg.Driver))
		return coupler.Connect(ctx, dial, cfg.Address, codec, logger)
	}
}
