package dm

import (
	"context"
	"fmt"
	"strings"

	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/transport"
)

// Downlink event names, in dispatch order.
const (
	EventRestart          = "restart"
	EventFirmwareUpgrade  = "firmware_upgrade"
	EventProfileRetrieval = "profile_retrieval"
	EventProfileUpdate    = "profile_update"
	EventHistoryRetrieval = "history_retrieval"
	EventRulesUpdate      = "rules_update"
	EventModbusUpdate     = "modbus_update"
	EventWakeUp           = "wake_up"
	EventService          = "service"
	EventProperty         = "property"
	EventAPIToken         = "api_token"
	EventTimestamp        = "timestamp"
)

// Device-initiated events with no payload.
const (
	EventRequestTimestamp = "request_timestamp"
	EventRequestProfile   = "request_profile"
	EventRequestAPIToken  = "request_api_token"
	EventSleep            = "sleep"
)

const eventCount = 12

var eventOrder = [eventCount]string{
	EventRestart,
	EventFirmwareUpgrade,
	EventProfileRetrieval,
	EventProfileUpdate,
	EventHistoryRetrieval,
	EventRulesUpdate,
	EventModbusUpdate,
	EventWakeUp,
	EventService,
	EventProperty,
	EventAPIToken,
	EventTimestamp,
}

// Handler executes one downlink. result starts out as success; the handler may mark
// it pending or failed. The returned payload becomes the data of the reply.
type Handler func(ctx context.Context, header protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte

// AfterHook runs once the reply for a downlink was published. Work that produces a
// later correlated reply, such as the final result of a pending command, starts here.
type AfterHook func(header protocol.DownlinkHeader, result protocol.DownlinkResult, payload []byte)

// Handlers is the host side of the session. Nil handlers leave their event
// unsupported.
type Handlers struct {
	Restart          Handler
	FirmwareUpgrade  Handler
	ProfileRetrieval Handler
	ProfileUpdate    Handler
	HistoryRetrieval Handler
	RulesUpdate      Handler
	ModbusUpdate     Handler
	WakeUp           Handler
	Service          Handler
	Property         Handler
	APIToken         Handler
	Timestamp        Handler

	AfterRestart         AfterHook
	AfterFirmwareUpgrade AfterHook
	AfterProfileUpdate   AfterHook

	// OnStatus receives every broker connection change.
	OnStatus func(status transport.ConnectionStatus)
}

// Registration is one slot of the event table.
type Registration struct {
	Name    string
	Handler Handler
	After   AfterHook
}

func (h Handlers) table() [eventCount]Registration {
	byName := map[string]Registration{
		EventRestart:          {Handler: h.Restart, After: h.AfterRestart},
		EventFirmwareUpgrade:  {Handler: h.FirmwareUpgrade, After: h.AfterFirmwareUpgrade},
		EventProfileRetrieval: {Handler: h.ProfileRetrieval},
		EventProfileUpdate:    {Handler: h.ProfileUpdate, After: h.AfterProfileUpdate},
		EventHistoryRetrieval: {Handler: h.HistoryRetrieval},
		EventRulesUpdate:      {Handler: h.RulesUpdate},
		EventModbusUpdate:     {Handler: h.ModbusUpdate},
		EventWakeUp:           {Handler: h.WakeUp},
		EventService:          {Handler: h.Service},
		EventProperty:         {Handler: h.Property},
		EventAPIToken:         {Handler: h.APIToken},
		EventTimestamp:        {Handler: h.Timestamp},
	}

	var table [eventCount]Registration
	for i, name := range eventOrder {
		reg := byName[name]
		reg.Name = name
		table[i] = reg
	}
	return table
}

// match returns the first registration whose name occurs in topic and that has a
// handler. Names are matched as substrings of the whole topic.
func match(table *[eventCount]Registration, topic string) (Registration, bool) {
	for _, reg := range table {
		if reg.Handler != nil && strings.Contains(topic, reg.Name) {
			return reg, true
		}
	}
	return Registration{}, false
}

// DownlinkTopic is the subscription filter for serial.
func DownlinkTopic(serial string) string {
	return fmt.Sprintf("iot/v1/device/%s/downlink/#", serial)
}

// UplinkTopic is where serial publishes event.
func UplinkTopic(serial, event string) string {
	return fmt.Sprintf("iot/v1/device/%s/uplink/%s", serial, event)
}
