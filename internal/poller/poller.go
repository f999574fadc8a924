package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenCoupler/internal/coupler"
	"github.com/KevinKickass/OpenCoupler/internal/metrics"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"go.uber.org/zap"
)

// ErrNoSession is returned while no coupler session is established.
var ErrNoSession = fmt.Errorf("no coupler session: %w", coupler.ErrNotReady)

// ConnectFunc opens a fresh session including discovery.
type ConnectFunc func(ctx context.Context) (*coupler.Session, error)

// Snapshot is the process image after one successful tick.
type Snapshot struct {
	SessionID string                             `json:"session_id"`
	Sequence  uint64                             `json:"sequence"`
	Timestamp time.Time                          `json:"timestamp"`
	Inputs    map[ur20.Address]ur20.ChannelValue `json:"inputs"`
	Outputs   map[ur20.Address]ur20.ChannelValue `json:"outputs"`
}

// Status describes the current session.
type Status struct {
	SessionID       string            `json:"session_id"`
	Address         string            `json:"address"`
	State           string            `json:"state"`
	Identity        string            `json:"identity"`
	InputRegisters  uint16            `json:"input_registers"`
	OutputRegisters uint16            `json:"output_registers"`
	Modules         []ur20.ModuleType `json:"modules"`
}

// Poller owns the coupler session, ticks it on an interval and reconnects
// after transport failures. All session access goes through its mutex.
type Poller struct {
	connect        ConnectFunc
	interval       time.Duration
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	session  *coupler.Session
	sequence uint64
	last     *Snapshot

	listenersMu sync.RWMutex
	listeners   []func(Snapshot)

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(connect ConnectFunc, interval, reconnectDelay time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		connect:        connect,
		interval:       interval,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return nil
	}
	if p.interval <= 0 {
		return fmt.Errorf("invalid tick interval %s", p.interval)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)

	go p.pollLoop(ctx)

	p.logger.Info("Poller started",
		zap.Duration("interval", p.interval),
		zap.Duration("reconnect_delay", p.reconnectDelay))

	return nil
}

// Stop ends the poll loop and closes the session. A tick in flight is aborted.
func (p *Poller) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.cancel()
	p.runMu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.dropSession()
	p.mu.Unlock()

	p.runMu.Lock()
	p.running = false
	p.runMu.Unlock()

	p.logger.Info("Poller stopped")
}

// IsRunning gibt an ob Poller läuft
func (p *Poller) IsRunning() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running
}

// Subscribe registers fn to receive every snapshot. fn runs on the poll
// loop and must not block.
func (p *Poller) Subscribe(fn func(Snapshot)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.connected() {
			if err := p.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !sleep(ctx, p.reconnectDelay) {
					return
				}
				continue
			}
			ticker.Reset(p.interval)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

func (p *Poller) reconnect(ctx context.Context) error {
	s, err := p.connect(ctx)
	if err != nil {
		metrics.ObserveDiscovery(0, err)
		metrics.IncError(coupler.Class(err))
		p.logger.Error("Coupler discovery failed",
			zap.String("class", coupler.Class(err)),
			zap.Duration("retry_in", p.reconnectDelay),
			zap.Error(err))
		return err
	}
	metrics.ObserveDiscovery(len(s.Modules()), nil)
	metrics.SetConnected(true)

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	s := p.session
	if s == nil {
		p.mu.Unlock()
		return
	}

	start := time.Now()
	err := s.Tick(ctx)
	metrics.ObserveTick(time.Since(start), err)

	if err != nil {
		p.handleTickError(err)
		p.mu.Unlock()
		return
	}

	snap, err := p.snapshotLocked()
	p.mu.Unlock()
	if err != nil {
		p.logger.Error("Snapshot failed", zap.Error(err))
		return
	}

	p.listenersMu.RLock()
	defer p.listenersMu.RUnlock()
	for _, fn := range p.listeners {
		fn(snap)
	}
}

// handleTickError decides by error class: a lost connection triggers a new
// discovery, anything else leaves the session in place. p.mu must be held.
func (p *Poller) handleTickError(err error) {
	class := coupler.Class(err)
	metrics.IncError(class)

	if errors.Is(err, coupler.ErrTransport) || errors.Is(err, coupler.ErrNotReady) {
		p.logger.Warn("Tick failed, rediscovering", zap.String("class", class), zap.Error(err))
		p.dropSession()
		return
	}
	p.logger.Error("Tick failed", zap.String("class", class), zap.Error(err))
}

func (p *Poller) dropSession() {
	if p.session == nil {
		return
	}
	p.session.Close()
	p.session = nil
	p.last = nil
	metrics.SetConnected(false)
}

func (p *Poller) snapshotLocked() (Snapshot, error) {
	in, err := p.session.Inputs()
	if err != nil {
		return Snapshot{}, err
	}
	out, err := p.session.Outputs()
	if err != nil {
		return Snapshot{}, err
	}
	p.sequence++
	snap := Snapshot{
		SessionID: p.session.ID().String(),
		Sequence:  p.sequence,
		Timestamp: time.Now(),
		Inputs:    in,
		Outputs:   out,
	}
	p.last = &snap
	return snap, nil
}

// Snapshot returns the image of the last successful tick.
func (p *Poller) Snapshot() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil || p.last == nil {
		return Snapshot{}, ErrNoSession
	}
	return *p.last, nil
}

// Status describes the current session.
func (p *Poller) Status() (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return Status{}, ErrNoSession
	}
	s := p.session
	return Status{
		SessionID:       s.ID().String(),
		Address:         s.Address(),
		State:           s.State().String(),
		Identity:        s.DiscoveredIdentity(),
		InputRegisters:  s.InputRegisterCount(),
		OutputRegisters: s.OutputRegisterCount(),
		Modules:         s.Modules(),
	}, nil
}

// SetOutput stages a channel write for the next tick.
func (p *Poller) SetOutput(addr ur20.Address, val ur20.ChannelValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ErrNoSession
	}
	return p.session.SetOutput(addr, val)
}

// Identity re-reads the coupler identity.
func (p *Poller) Identity(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return "", ErrNoSession
	}
	id, err := p.session.Identity(ctx)
	if err != nil && errors.Is(err, coupler.ErrTransport) {
		p.dropSession()
	}
	return id, err
}

// BinaryInputData drains the byte streams of the current session.
func (p *Poller) BinaryInputData() (map[ur20.Address][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, ErrNoSession
	}
	return p.session.BinaryInputData()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
