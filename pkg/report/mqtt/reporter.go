package mqtt

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/robotalks/userapp/pkg/ops"
)

// Defaults of Reporter.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultBacklog           = 64
)

// Meta describes the reporting device. It is published retained on the
// meta topic and cleared by the last will.
type Meta struct {
	AppID       string            `json:"app_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	// Session changes with every process start.
	Session     string            `json:"session,omitempty"`
}

// Reporter publishes dispatcher events. It implements dispatch.Observer and
// dispatch.Indicator without ever blocking the dispatch loop: events are
// queued and dropped when the backlog is full.
type Reporter struct {
	Queue             *Queue
	DeviceID          string
	Session           string
	HeartbeatInterval time.Duration

	metaJSON   []byte
	eventCh    chan *Event
	iterations uint64
	timeouts   uint64
	dropped    uint64
}

// EventsTopic returns the events topic of a device, relative to the prefix.
func EventsTopic(deviceID string) string {
	return deviceID + "/events"
}

// MetaTopic returns the meta topic of a device, relative to the prefix.
func MetaTopic(deviceID string) string {
	return deviceID + "/meta"
}

// NewReporter creates a Reporter.
func NewReporter(brokerURL, deviceID string, meta Meta) (*Reporter, error) {
	meta.Session = uuid.New().String()
	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+MetaTopic(deviceID), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("userapp:" + deviceID)
	}
	r := &Reporter{
		Queue:             NewQueue(opts, topicPrefix),
		DeviceID:          deviceID,
		Session:           meta.Session,
		HeartbeatInterval: DefaultHeartbeatInterval,
		metaJSON:          metaJSON,
		eventCh:           make(chan *Event, DefaultBacklog),
	}
	r.Queue.OnConnect = func(q *Queue) {
		q.PubWith(MetaTopic(r.DeviceID), r.metaJSON, 1, true)
	}
	return r, nil
}

// Name implements framework.Named.
func (r *Reporter) Name() string {
	return "mqtt-reporter"
}

// Run implements framework.Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	r.Queue.Connect()
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			token := r.Queue.PubWith(MetaTopic(r.DeviceID), nil, 1, true)
			token.WaitTimeout(time.Second)
			r.Queue.Close()
			return ctx.Err()
		case ev := <-r.eventCh:
			r.publish(ev)
		case now := <-ticker.C:
			r.publish(r.heartbeat(now))
		}
	}
}

func (r *Reporter) heartbeat(now time.Time) *Event {
	return &Event{
		Kind:       EventHeartbeat,
		Time:       now,
		Session:    r.Session,
		Iterations: atomic.LoadUint64(&r.iterations),
		Timeouts:   atomic.LoadUint64(&r.timeouts),
	}
}

func (r *Reporter) publish(ev *Event) {
	payload, err := ev.Encode()
	if err != nil {
		glog.Errorf("encode %s event: %v", ev.Kind, err)
		return
	}
	if !r.Queue.Client.IsConnected() {
		glog.V(2).Infof("MQTT not connected, %s event dropped", ev.Kind)
		return
	}
	r.Queue.Pub(EventsTopic(r.DeviceID), payload)
}

func (r *Reporter) post(ev *Event) {
	ev.Time, ev.Session = time.Now(), r.Session
	select {
	case r.eventCh <- ev:
	default:
		if n := atomic.AddUint64(&r.dropped, 1); n == 1 || n%100 == 0 {
			glog.Warningf("MQTT event backlog full, %d events dropped", n)
		}
	}
}

// Timeout implements dispatch.Observer. Timeouts are only counted.
func (r *Reporter) Timeout() {
	atomic.AddUint64(&r.timeouts, 1)
}

// ChannelFault implements dispatch.Observer.
func (r *Reporter) ChannelFault(err error) {
	r.post(&Event{Kind: EventChannelFault, Error: err.Error()})
}

// Dispatched implements dispatch.Observer.
func (r *Reporter) Dispatched(cmd ops.Command, elapsed time.Duration) {
	r.post(&Event{Kind: EventDispatched, Command: cmd, Elapsed: elapsed})
}

// Invalid implements dispatch.Observer.
func (r *Reporter) Invalid(cmd ops.Command) {
	r.post(&Event{Kind: EventInvalid, Command: cmd})
}

// Toggle implements dispatch.Indicator and counts loop iterations.
func (r *Reporter) Toggle() {
	atomic.AddUint64(&r.iterations, 1)
}
