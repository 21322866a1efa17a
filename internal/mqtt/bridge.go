//go:build !no_mqtt

// Package mqtt bridges device telemetry over MQTT. Devices publish event
// batches to <prefix>/assignments/<token>/batch; the bridge ingests them and
// publishes the resulting assignment state retained on
// <prefix>/assignments/<token>/state, optionally with Home Assistant
// discovery.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"devicetrack/internal/apperr"
	"devicetrack/internal/events"
	"devicetrack/internal/model"
)

const ingestTimeout = 10 * time.Second

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	Discovery   bool
}

// Management is the part of the device management API the bridge drives.
type Management interface {
	IngestEventBatch(ctx context.Context, assignmentToken string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error)
	ListDeviceAssignments(ctx context.Context, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error)
}

// tracked is what the bridge remembers about an active assignment for
// discovery.
type tracked struct {
	device       haDevice
	measurements map[string]bool
}

// Bridge connects device management to MQTT.
type Bridge struct {
	client    pahomqtt.Client
	mgmt      Management
	bus       *events.Bus
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc

	mu          sync.Mutex
	assignments map[string]*tracked // assignment token -> discovery state
}

func newBridge(mgmt Management, bus *events.Bus, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mgmt:        mgmt,
		bus:         bus,
		prefix:      cfg.TopicPrefix,
		discovery:   cfg.Discovery,
		logger:      logger.With("component", "mqtt"),
		assignments: make(map[string]*tracked),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(mgmt Management, bus *events.Bus, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(mgmt, bus, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "devicetrack"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeBatches()
			if b.discovery {
				b.publishAllDiscovery()
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to management events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "discovery", b.discovery)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event events.Event) {
	switch event.Type {
	case events.StateUpdated:
		// Released and deleted assignments stay off the broker once retired.
		if st, ok := event.Data.(events.State); ok && st.Active {
			b.publishState(st.AssignmentToken, st.State)
		}
	case events.AssignmentCreated:
		if a, ok := event.Data.(model.DeviceAssignment); ok && b.discovery {
			b.announce(a)
		}
	case events.AssignmentReleased:
		if a, ok := event.Data.(model.DeviceAssignment); ok {
			b.retire(a.Token)
		}
	case events.AssignmentDeleted:
		if d, ok := event.Data.(events.Deleted); ok {
			b.retire(d.Token)
		}
	}
}

// subscribeBatches listens for event batches from every assignment.
func (b *Bridge) subscribeBatches() {
	topic := b.prefix + "/assignments/+/batch"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleBatch(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "topic", topic, "err", err)
		}
	}()
}

// handleBatch ingests one batch message. Failures are reported back on the
// assignment's error topic; the resulting state is published by the
// StateUpdated event the ingest emits.
func (b *Bridge) handleBatch(topic string, payload []byte) {
	assignment, ok := parseBatchTopic(b.prefix, topic)
	if !ok {
		b.logger.Warn("unexpected batch topic", "topic", topic)
		return
	}

	var batch model.DeviceEventBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		b.logger.Warn("invalid batch payload", "assignment", assignment, "err", err)
		b.publishError(assignment, apperr.Validation(apperr.InvalidRequest, "invalid batch payload: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, ingestTimeout)
	defer cancel()
	resp, err := b.mgmt.IngestEventBatch(ctx, assignment, batch)
	if err != nil {
		b.logger.Warn("ingest batch", "assignment", assignment, "err", err)
		b.publishError(assignment, err)
		return
	}
	b.logger.Debug("batch ingested from MQTT", "assignment", assignment,
		"measurements", len(resp.CreatedMeasurements),
		"locations", len(resp.CreatedLocations),
		"alerts", len(resp.CreatedAlerts))
}

func (b *Bridge) publishState(assignment string, state model.AssignmentState) {
	b.publish(stateTopic(b.prefix, assignment), mustJSON(state), true)
	if b.discovery {
		b.announceMeasurements(assignment, state)
	}
}

func (b *Bridge) publishError(assignment string, err error) {
	var ae *apperr.Error
	body := map[string]string{"error": err.Error()}
	if errors.As(err, &ae) {
		body["error"] = ae.Msg
		body["code"] = string(ae.Code)
	}
	b.publish(b.prefix+"/assignments/"+assignment+"/error", mustJSON(body), false)
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

// publishAllDiscovery announces every active assignment, e.g. after a
// reconnect to a broker that lost its retained messages.
func (b *Bridge) publishAllDiscovery() {
	ctx, cancel := context.WithTimeout(b.ctx, ingestTimeout)
	defer cancel()
	list, err := b.mgmt.ListDeviceAssignments(ctx, model.SearchCriteria{})
	if err != nil {
		b.logger.Error("list assignments for discovery", "err", err)
		return
	}
	for _, a := range list.Results {
		if a.Status != model.StatusActive || a.Deleted {
			continue
		}
		b.announce(a)
		b.announceMeasurements(a.Token, a.State)
	}
}

// announce publishes the tracker entity for a and starts tracking it.
func (b *Bridge) announce(a model.DeviceAssignment) {
	dev := haDeviceFor(a.Token, assignmentDisplayName(a), a.AssetType)
	b.mu.Lock()
	b.assignments[a.Token] = &tracked{device: dev, measurements: make(map[string]bool)}
	b.mu.Unlock()

	msg := buildTracker(b.prefix, a.Token, dev)
	b.publish(msg.Topic, msg.Payload, true)
	b.logger.Info("published HA discovery", "assignment", a.Token, "name", dev.Name)
}

// announceMeasurements publishes a sensor for each measurement name the
// assignment reports for the first time.
func (b *Bridge) announceMeasurements(assignment string, state model.AssignmentState) {
	b.mu.Lock()
	t, ok := b.assignments[assignment]
	if !ok {
		// Assignment predates the bridge and was not listed on connect.
		dev := haDeviceFor(assignment, assignment, "")
		t = &tracked{device: dev, measurements: make(map[string]bool)}
		b.assignments[assignment] = t
		msg := buildTracker(b.prefix, assignment, dev)
		b.publish(msg.Topic, msg.Payload, true)
	}
	names := newMeasurementNames(t.measurements, state)
	for _, name := range names {
		t.measurements[name] = true
	}
	dev := t.device
	b.mu.Unlock()

	for _, name := range names {
		msg := buildMeasurementSensor(b.prefix, assignment, dev, name)
		b.publish(msg.Topic, msg.Payload, true)
	}
}

// retire clears the retained state of an assignment that is no longer
// active, and removes its discovery entities.
func (b *Bridge) retire(assignment string) {
	b.publish(stateTopic(b.prefix, assignment), nil, true)

	b.mu.Lock()
	t, ok := b.assignments[assignment]
	delete(b.assignments, assignment)
	b.mu.Unlock()
	if !ok {
		return
	}

	names := make([]string, 0, len(t.measurements))
	for name := range t.measurements {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, msg := range buildRemoveDiscovery(assignment, names) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("removed HA discovery", "assignment", assignment)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// parseBatchTopic extracts the assignment token from
// <prefix>/assignments/<token>/batch.
func parseBatchTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/assignments/")
	if !ok {
		return "", false
	}
	token, ok := strings.CutSuffix(rest, "/batch")
	if !ok || token == "" || strings.ContainsAny(token, "/+#") {
		return "", false
	}
	return token, true
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
