package simplisafe

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of event carried by a websocket frame.
type EventType string

// Known event types. The vendor identifies events by numeric CID; the
// mapping below translates the CIDs observed in the wild. CIDs outside the
// table map to EventTypeUnknown rather than failing, since the vendor adds
// new ones without notice.
const (
	EventTypeAlarmCanceled            EventType = "alarm_canceled"
	EventTypeAlarmTriggered           EventType = "alarm_triggered"
	EventTypeArmedAway                EventType = "armed_away"
	EventTypeArmedAwayByKeypad        EventType = "armed_away_by_keypad"
	EventTypeArmedAwayByRemote        EventType = "armed_away_by_remote"
	EventTypeArmedHome                EventType = "armed_home"
	EventTypeAutomaticTest            EventType = "automatic_test"
	EventTypeAwayExitDelayByKeypad    EventType = "away_exit_delay_by_keypad"
	EventTypeAwayExitDelayByRemote    EventType = "away_exit_delay_by_remote"
	EventTypeCameraMotionDetected     EventType = "camera_motion_detected"
	EventTypeConnectionLost           EventType = "connection_lost"
	EventTypeConnectionRestored       EventType = "connection_restored"
	EventTypeDisarmedByMasterPIN      EventType = "disarmed_by_master_pin"
	EventTypeDisarmedByRemote         EventType = "disarmed_by_remote"
	EventTypeDoorbellDetected         EventType = "doorbell_detected"
	EventTypeDeviceTest               EventType = "device_test"
	EventTypeEntryDelay               EventType = "entry_delay"
	EventTypeHomeExitDelay            EventType = "home_exit_delay"
	EventTypeLockError                EventType = "lock_error"
	EventTypeLockLocked               EventType = "lock_locked"
	EventTypeLockUnlocked             EventType = "lock_unlocked"
	EventTypePowerOutage              EventType = "power_outage"
	EventTypePowerRestored            EventType = "power_restored"
	EventTypeSecretAlertTriggered     EventType = "secret_alert_triggered"
	EventTypeSensorNotResponding      EventType = "sensor_not_responding"
	EventTypeSensorPairedAndNamed     EventType = "sensor_paired_and_named"
	EventTypeSensorRestored           EventType = "sensor_restored"
	EventTypeUserInitiatedTest        EventType = "user_initiated_test"
	EventTypeUnknown                  EventType = "unknown"
)

// eventCIDMapping translates the vendor's numeric event CIDs.
var eventCIDMapping = map[int]EventType{
	1110: EventTypeAlarmTriggered,
	1120: EventTypeAlarmTriggered,
	1132: EventTypeAlarmTriggered,
	1134: EventTypeAlarmTriggered,
	1154: EventTypeAlarmTriggered,
	1159: EventTypeAlarmTriggered,
	1162: EventTypeAlarmTriggered,
	1170: EventTypeCameraMotionDetected,
	1301: EventTypePowerOutage,
	1350: EventTypeConnectionLost,
	1381: EventTypeSensorNotResponding,
	1400: EventTypeDisarmedByMasterPIN,
	1406: EventTypeAlarmCanceled,
	1407: EventTypeDisarmedByRemote,
	1409: EventTypeSecretAlertTriggered,
	1429: EventTypeEntryDelay,
	1458: EventTypeDoorbellDetected,
	1531: EventTypeSensorPairedAndNamed,
	1601: EventTypeUserInitiatedTest,
	1602: EventTypeAutomaticTest,
	1604: EventTypeDeviceTest,
	3301: EventTypePowerRestored,
	3350: EventTypeConnectionRestored,
	3381: EventTypeSensorRestored,
	3401: EventTypeArmedAwayByKeypad,
	3407: EventTypeArmedAwayByRemote,
	3441: EventTypeArmedHome,
	3481: EventTypeArmedAway,
	3487: EventTypeArmedAway,
	3491: EventTypeArmedHome,
	9401: EventTypeAwayExitDelayByKeypad,
	9407: EventTypeAwayExitDelayByRemote,
	9441: EventTypeHomeExitDelay,
	9700: EventTypeLockUnlocked,
	9701: EventTypeLockLocked,
	9703: EventTypeLockError,
}

// DeviceType identifies the hardware kind of a sensor or device.
type DeviceType int

// Device types as reported in snapshots and websocket frames.
const (
	DeviceTypeRemote         DeviceType = 0
	DeviceTypeKeypad         DeviceType = 1
	DeviceTypeKeychain       DeviceType = 2
	DeviceTypePanicButton    DeviceType = 3
	DeviceTypeMotion         DeviceType = 4
	DeviceTypeEntry          DeviceType = 5
	DeviceTypeGlassBreak     DeviceType = 6
	DeviceTypeCarbonMonoxide DeviceType = 7
	DeviceTypeSmoke          DeviceType = 8
	DeviceTypeLeak           DeviceType = 9
	DeviceTypeTemperature    DeviceType = 10
	DeviceTypeCamera         DeviceType = 12
	DeviceTypeSiren          DeviceType = 13
	DeviceTypeDoorbell       DeviceType = 15
	DeviceTypeLock           DeviceType = 16
	DeviceTypeLockKeypad     DeviceType = 253
	DeviceTypeUnknown        DeviceType = 99
)

// String implements fmt.Stringer.
func (d DeviceType) String() string {
	switch d {
	case DeviceTypeRemote:
		return "remote"
	case DeviceTypeKeypad:
		return "keypad"
	case DeviceTypeKeychain:
		return "keychain"
	case DeviceTypePanicButton:
		return "panic_button"
	case DeviceTypeMotion:
		return "motion"
	case DeviceTypeEntry:
		return "entry"
	case DeviceTypeGlassBreak:
		return "glass_break"
	case DeviceTypeCarbonMonoxide:
		return "carbon_monoxide"
	case DeviceTypeSmoke:
		return "smoke"
	case DeviceTypeLeak:
		return "leak"
	case DeviceTypeTemperature:
		return "temperature"
	case DeviceTypeCamera:
		return "camera"
	case DeviceTypeSiren:
		return "siren"
	case DeviceTypeDoorbell:
		return "doorbell"
	case DeviceTypeLock:
		return "lock"
	case DeviceTypeLockKeypad:
		return "lock_keypad"
	default:
		return "unknown"
	}
}

// knownDeviceType reports whether the raw value is a device type this
// library recognizes.
func knownDeviceType(raw int) bool {
	switch DeviceType(raw) {
	case DeviceTypeRemote, DeviceTypeKeypad, DeviceTypeKeychain, DeviceTypePanicButton,
		DeviceTypeMotion, DeviceTypeEntry, DeviceTypeGlassBreak, DeviceTypeCarbonMonoxide,
		DeviceTypeSmoke, DeviceTypeLeak, DeviceTypeTemperature, DeviceTypeCamera,
		DeviceTypeSiren, DeviceTypeDoorbell, DeviceTypeLock, DeviceTypeLockKeypad:
		return true
	}
	return false
}

// WebsocketEvent is an immutable record of a single event frame pushed over
// the stream connection.
type WebsocketEvent struct {
	EventType    EventType
	EventCID     int
	SystemID     int64
	SensorType   DeviceType
	SensorSerial string
	SensorName   string
	ChangedBy    string // PIN name, empty when not applicable
	Info         string
	Timestamp    time.Time // UTC
}

// String implements fmt.Stringer.
func (e WebsocketEvent) String() string {
	return fmt.Sprintf("<WebsocketEvent %s system=%d info=%q>", e.EventType, e.SystemID, e.Info)
}

// Websocket frame types exchanged with the event stream server.
const (
	messageTypeIdentify   = "com.simplisafe.connection.identify"
	messageTypeRegistered = "com.simplisafe.connection.registered"
	messageTypeError      = "com.simplisafe.monitoring.error"
	messageTypeEvent      = "com.simplisafe.event.standard"
)

// websocketFrame is the CloudEvents-style envelope of every stream message.
type websocketFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// eventFrameData is the payload of a standard event frame.
type eventFrameData struct {
	EventCID       int    `json:"eventCid"`
	Info           string `json:"info"`
	SystemID       int64  `json:"sid"`
	EventTimestamp int64  `json:"eventTimestamp"`
	PINName        string `json:"pinName"`
	SensorName     string `json:"sensorName"`
	SensorSerial   string `json:"sensorSerial"`
	SensorType     int    `json:"sensorType"`
}

// eventFromFrameData builds a WebsocketEvent from a decoded event payload.
// Unknown event CIDs and sensor types are mapped to their unknown sentinels
// and logged; they never produce an error.
func (w *WebsocketClient) eventFromFrameData(data eventFrameData) WebsocketEvent {
	eventType, ok := eventCIDMapping[data.EventCID]
	if !ok {
		w.logger.Warn("encountered unknown websocket event type",
			"event_cid", data.EventCID,
			"info", data.Info,
		)
		eventType = EventTypeUnknown
	}

	sensorType := DeviceType(data.SensorType)
	if !knownDeviceType(data.SensorType) {
		w.logger.Warn("encountered unknown sensor type",
			"sensor_type", data.SensorType,
			"info", data.Info,
		)
		sensorType = DeviceTypeUnknown
	}

	return WebsocketEvent{
		EventType:    eventType,
		EventCID:     data.EventCID,
		SystemID:     data.SystemID,
		SensorType:   sensorType,
		SensorSerial: data.SensorSerial,
		SensorName:   data.SensorName,
		ChangedBy:    data.PINName,
		Info:         data.Info,
		Timestamp:    time.Unix(data.EventTimestamp, 0).UTC(),
	}
}
