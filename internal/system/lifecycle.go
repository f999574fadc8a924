package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenCoupler/internal/api/rest"
	"github.com/KevinKickass/OpenCoupler/internal/api/websocket"
	"github.com/KevinKickass/OpenCoupler/internal/config"
	"github.com/KevinKickass/OpenCoupler/internal/mqtt"
	"github.com/KevinKickass/OpenCoupler/internal/poller"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	poller     *poller.Poller
	wsHub      *websocket.Hub
	restServer *rest.Server
	bridge     *mqtt.Bridge

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	codec, err := NewCodec(cfg.Coupler, logger)
	if err != nil {
		return nil, err
	}

	p := poller.New(
		NewConnectFunc(cfg.Coupler, codec, logger),
		cfg.Coupler.TickInterval,
		cfg.Coupler.ReconnectDelay,
		logger,
	)
	hub := websocket.NewHub(logger, p)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		poller:       p,
		wsHub:        hub,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.restServer = rest.NewServer(cfg, p, logger, hub)
	lm.restServer.SetStatusProvider(lm)

	p.Subscribe(func(snap poller.Snapshot) {
		hub.Broadcast(websocket.NewSnapshotMessage(snap))
	})

	if cfg.MQTT.Enabled {
		lm.bridge = mqtt.NewBridge(cfg.MQTT, p, logger)
		p.Subscribe(lm.bridge.Publish)
	}

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenCoupler")

	ctx, lm.cancel = context.WithCancel(ctx)

	go lm.wsHub.Run(ctx)

	if lm.bridge != nil {
		if err := lm.bridge.Connect(ctx); err != nil {
			lm.setError(fmt.Errorf("failed to connect MQTT: %w", err))
			return err
		}
	}

	if err := lm.poller.Start(ctx); err != nil {
		lm.setError(fmt.Errorf("failed to start poller: %w", err))
		return err
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("coupler", lm.config.Coupler.Address),
		zap.Bool("mqtt_enabled", lm.bridge != nil))

	return nil
}

// Done is closed once Shutdown completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		if err := lm.setState(StateStopped); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	done := make(chan error, 1)

	go func() {
		// 1. Stop accepting API requests
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := lm.restServer.Shutdown(shutdownCtx)
		if err != nil {
			err = fmt.Errorf("rest api shutdown failed: %w", err)
		}

		// 2. Stop the cycle and close the coupler session
		lm.poller.Stop()

		// 3. Broker and websocket clients
		if lm.bridge != nil {
			lm.bridge.Close()
		}
		if lm.cancel != nil {
			lm.cancel()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			lm.logger.Info("Graceful shutdown completed")
		}
		return err
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.logger.Debug("System state changed",
		zap.Stringer("from", lm.currentState),
		zap.Stringer("to", state))
	lm.currentState = state
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.logger.Error("System error", zap.Error(err))
	lm.currentState = StateError
	lm.lastError = err
}

// GetCurrentStatus returns current system status
func (lm *LifecycleManager) GetCurrentStatus() any {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := SystemStatus{
		State:        lm.currentState,
		CouplerState: "disconnected",
		WSClients:    lm.wsHub.GetClientCount(),
		Timestamp:    time.Now().Unix(),
	}
	if lm.lastError != nil {
		status.Error = lm.lastError.Error()
	}
	if cs, err := lm.poller.Status(); err == nil {
		status.CouplerState = cs.State
		status.SessionID = cs.SessionID
		status.Modules = len(cs.Modules)
	}
	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
