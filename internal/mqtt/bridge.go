package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenCoupler/internal/config"
	"github.com/KevinKickass/OpenCoupler/internal/poller"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	queueSize      = 16
	publishTimeout = 2 * time.Second
)

var errPublishTimeout = errors.New("mqtt publish timed out")

// OutputSetter stages channel writes received from the broker.
type OutputSetter interface {
	SetOutput(addr ur20.Address, val ur20.ChannelValue) error
}

// Bridge mirrors the process image to an MQTT broker.
//
// Topics below the configured prefix:
//
//	<prefix>/snapshot             full snapshot after every tick
//	<prefix>/inputs/<m>.<c>       retained channel value, published on change
//	<prefix>/outputs/<m>.<c>      retained channel value, published on change
//	<prefix>/outputs/<m>.<c>/set  ChannelValue JSON to stage an output write
type Bridge struct {
	cfg     config.MQTTConfig
	outputs OutputSetter
	logger  *zap.Logger

	client  mqtt.Client
	publish func(topic string, retained bool, payload []byte) error

	queue     chan poller.Snapshot
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.Mutex
	lastInput  map[ur20.Address]ur20.ChannelValue
	lastOutput map[ur20.Address]ur20.ChannelValue
}

func NewBridge(cfg config.MQTTConfig, outputs OutputSetter, logger *zap.Logger) *Bridge {
	return &Bridge{
		cfg:        cfg,
		outputs:    outputs,
		logger:     logger.With(zap.String("broker", cfg.Broker)),
		queue:      make(chan poller.Snapshot, queueSize),
		stop:       make(chan struct{}),
		lastInput:  make(map[ur20.Address]ur20.ChannelValue),
		lastOutput: make(map[ur20.Address]ur20.ChannelValue),
	}
}

// Connect opens the broker connection and subscribes to the set topics.
func (b *Bridge) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		b.logger.Info("MQTT connected")
		// Retained values must be sent again after a reconnect
		b.mu.Lock()
		b.lastInput = make(map[ur20.Address]ur20.ChannelValue)
		b.lastOutput = make(map[ur20.Address]ur20.ChannelValue)
		b.mu.Unlock()

		token := client.Subscribe(b.topic("outputs", "+", "set"), byte(b.cfg.QoS), func(_ mqtt.Client, msg mqtt.Message) {
			b.handleSet(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			b.logger.Error("MQTT subscribe failed", zap.Error(token.Error()))
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	finished := make(chan struct{})
	go func() {
		token.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	b.client = client
	b.publish = func(topic string, retained bool, payload []byte) error {
		t := client.Publish(topic, byte(b.cfg.QoS), retained, payload)
		if !t.WaitTimeout(publishTimeout) {
			return errPublishTimeout
		}
		return t.Error()
	}
	b.start()
	return nil
}

// Close stops the publisher and disconnects from the broker.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// Publish queues snap for the publisher goroutine. It never blocks; when the
// queue is full the snapshot is dropped.
func (b *Bridge) Publish(snap poller.Snapshot) {
	select {
	case b.queue <- snap:
	default:
		b.logger.Debug("MQTT queue full, dropping snapshot", zap.Uint64("sequence", snap.Sequence))
	}
}

func (b *Bridge) start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case snap := <-b.queue:
			b.publishSnapshot(snap)
		}
	}
}

// publishSnapshot sends a snapshot and every channel that changed since the
// last one.
func (b *Bridge) publishSnapshot(snap poller.Snapshot) {
	if b.publish == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}
	if err := b.publish(b.topic("snapshot"), false, data); err != nil {
		b.logger.Warn("MQTT publish failed", zap.String("topic", b.topic("snapshot")), zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishChanged("inputs", b.lastInput, snap.Inputs)
	b.publishChanged("outputs", b.lastOutput, snap.Outputs)
}

// publishChanged publishes the values of next that differ from last and
// updates last. b.mu must be held.
func (b *Bridge) publishChanged(dir string, last, next map[ur20.Address]ur20.ChannelValue) {
	for addr, v := range next {
		if prev, ok := last[addr]; ok && prev.Equal(v) {
			continue
		}
		payload, err := json.Marshal(v)
		if err != nil {
			continue
		}
		topic := b.topic(dir, addr.String())
		if err := b.publish(topic, true, payload); err != nil {
			b.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		last[addr] = v
	}
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	addr, ok := b.parseSetTopic(topic)
	if !ok {
		b.logger.Warn("Ignoring message on unexpected topic", zap.String("topic", topic))
		return
	}

	var v ur20.ChannelValue
	if err := json.Unmarshal(payload, &v); err != nil {
		b.logger.Warn("Invalid output value", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := b.outputs.SetOutput(addr, v); err != nil {
		b.logger.Warn("Output write rejected", zap.String("address", addr.String()), zap.Error(err))
		return
	}
	b.logger.Debug("Output staged", zap.String("address", addr.String()), zap.Stringer("value", v))
}

func (b *Bridge) parseSetTopic(topic string) (ur20.Address, bool) {
	rest, ok := strings.CutPrefix(topic, b.topic("outputs")+"/")
	if !ok {
		return ur20.Address{}, false
	}
	addr, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return ur20.Address{}, false
	}
	a, err := ur20.ParseAddress(addr)
	if err != nil {
		return ur20.Address{}, false
	}
	return a, true
}

func (b *Bridge) topic(parts ...string) string {
	return strings.TrimSuffix(b.cfg.TopicPrefix, "/") + "/" + strings.Join(parts, "/")
}
