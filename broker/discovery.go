package broker

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const discoveryPrefix = "homeassistant"

// Device info shown in Home Assistant
const (
	deviceName         = "MIDI Transposer"
	deviceManufacturer = "MidiTransposer"
	deviceModel        = "MidiTransposer"
)

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type discoveryEntity struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	CommandTopic      string          `json:"command_topic"`
	StateTopic        string          `json:"state_topic,omitempty"`
	Min               *int            `json:"min,omitempty"`
	Max               *int            `json:"max,omitempty"`
	Step              int             `json:"step,omitempty"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	PayloadPress      string          `json:"payload_press,omitempty"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	StateOn           string          `json:"state_on,omitempty"`
	StateOff          string          `json:"state_off,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

// Announcement is one retained discovery config message
type Announcement struct {
	Topic   string
	Payload []byte
}

// Discovery builds the Home Assistant discovery configs for the number,
// the two buttons and the three switches
func Discovery(t Topics, deviceID string, min, max int) ([]Announcement, error) {
	dev := discoveryDevice{
		Identifiers:  []string{"midi_transposer_" + deviceID},
		Name:         deviceName,
		Manufacturer: deviceManufacturer,
		Model:        deviceModel,
	}

	entity := func(name, id, command string) discoveryEntity {
		return discoveryEntity{
			Name:              name,
			UniqueID:          deviceID + "_" + id,
			CommandTopic:      command,
			AvailabilityTopic: t.Availability,
			Device:            dev,
		}
	}
	button := func(name, id, command string) discoveryEntity {
		e := entity(name, id, command)
		e.PayloadPress = "1"
		return e
	}
	switchEntity := func(name, id, command, stateTopic string) discoveryEntity {
		e := entity(name, id, command)
		e.StateTopic = stateTopic
		e.PayloadOn, e.PayloadOff = "1", "0"
		e.StateOn, e.StateOff = "1", "0"
		return e
	}

	number := entity("MIDI Transpose", "transpose", t.TransposeSet)
	number.StateTopic = t.TransposeState
	number.Min, number.Max = &min, &max
	number.Step = 1
	number.Unit = "semitones"

	configs := []struct {
		component, object string
		entity            discoveryEntity
	}{
		{"number", "transpose", number},
		{"button", "transpose_up", button("Transpose Up", "transpose_up", t.TransposeUp)},
		{"button", "transpose_down", button("Transpose Down", "transpose_down", t.TransposeDown)},
		{"switch", "osc_sending_enabled", switchEntity("OSC Sending Enabled", "osc_sending_enabled", t.OSCEnabledSet, t.OSCEnabledState)},
		{"switch", "osc_send_original", switchEntity("OSC Send Original", "osc_send_original", t.SendOriginalSet, t.SendOriginalState)},
		{"switch", "debug_enabled", switchEntity("Debug Enabled", "debug_enabled", t.DebugSet, t.DebugState)},
	}

	out := make([]Announcement, 0, len(configs))
	for _, c := range configs {
		payload, err := json.Marshal(c.entity)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s discovery", c.object)
		}
		out = append(out, Announcement{
			Topic:   discoveryPrefix + "/" + c.component + "/midi_transposer/" + c.object + "/config",
			Payload: payload,
		})
	}
	return out, nil
}
