package mqtt

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/userapp/pkg/ops"
)

// EventKind classifies reported events.
type EventKind string

// Event kinds
const (
	EventDispatched   EventKind = "dispatched"
	EventInvalid      EventKind = "invalid"
	EventChannelFault EventKind = "channel-fault"
	EventHeartbeat    EventKind = "heartbeat"
)

// Event is a single report published on the events topic.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Command ops.Command
	Elapsed time.Duration
	Error   string
	Session string

	// Heartbeat counters.
	Iterations uint64
	Timeouts   uint64
}

// Event fields in the wire struct.
const (
	fieldKind       = "kind"
	fieldTime       = "time"
	fieldCommand    = "command"
	fieldElapsedMs  = "elapsed_ms"
	fieldError      = "error"
	fieldIterations = "iterations"
	fieldTimeouts   = "timeouts"
	fieldSession    = "session"
)

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func numberValue(n float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: n}}
}

// Struct converts the event into a protobuf Struct.
func (e *Event) Struct() (*structpb.Struct, error) {
	ts, err := ptypes.TimestampProto(e.Time)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind: stringValue(string(e.Kind)),
		fieldTime: stringValue(ptypes.TimestampString(ts)),
	}}
	if e.Session != "" {
		s.Fields[fieldSession] = stringValue(e.Session)
	}
	switch e.Kind {
	case EventDispatched:
		s.Fields[fieldCommand] = numberValue(float64(e.Command))
		s.Fields[fieldElapsedMs] = numberValue(float64(e.Elapsed) / float64(time.Millisecond))
	case EventInvalid:
		s.Fields[fieldCommand] = numberValue(float64(e.Command))
	case EventChannelFault:
		s.Fields[fieldError] = stringValue(e.Error)
	case EventHeartbeat:
		s.Fields[fieldIterations] = numberValue(float64(e.Iterations))
		s.Fields[fieldTimeouts] = numberValue(float64(e.Timeouts))
	}
	return s, nil
}

// Encode encodes the event as a serialized protobuf Struct.
func (e *Event) Encode() ([]byte, error) {
	s, err := e.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeStruct decodes the serialized protobuf Struct of an event.
func DecodeStruct(payload []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeEvent decodes an event.
func DecodeEvent(payload []byte) (*Event, error) {
	s, err := DecodeStruct(payload)
	if err != nil {
		return nil, err
	}
	fields := s.GetFields()
	e := &Event{Kind: EventKind(fields[fieldKind].GetStringValue())}
	if e.Kind == "" {
		return nil, fmt.Errorf("event kind missing")
	}
	if val := fields[fieldTime].GetStringValue(); val != "" {
		if e.Time, err = time.Parse(time.RFC3339Nano, val); err != nil {
			return nil, fmt.Errorf("invalid event time %q: %v", val, err)
		}
	}
	e.Command = ops.Command(fields[fieldCommand].GetNumberValue())
	e.Elapsed = time.Duration(fields[fieldElapsedMs].GetNumberValue() * float64(time.Millisecond))
	e.Error = fields[fieldError].GetStringValue()
	e.Session = fields[fieldSession].GetStringValue()
	e.Iterations = uint64(fields[fieldIterations].GetNumberValue())
	e.Timeouts = uint64(fields[fieldTimeouts].GetNumberValue())
	return e, nil
}
