package simplisafe

// Sensor is a device paired to a system. V2 and V3 hardware report their
// state in different shapes; both satisfy this interface.
type Sensor interface {
	// Name returns the user-assigned sensor name.
	Name() string
	// Serial returns the sensor serial.
	Serial() string
	// Type returns the device type.
	Type() DeviceType
	// Triggered returns whether the sensor is currently triggered. What
	// "triggered" means depends on the type: an open entry sensor, motion
	// detected, smoke detected, and so on.
	Triggered() bool
	// LowBattery returns whether the sensor's battery is low.
	LowBattery() bool
	// Error returns whether the sensor is reporting an error.
	Error() bool
}

// baseSensor carries the fields both generations share.
type baseSensor struct {
	client *Client
	data   map[string]any

	deviceType DeviceType
}

func newBaseSensor(client *Client, data map[string]any) baseSensor {
	raw, _ := GetInt(data, "type")
	deviceType := DeviceType(raw)
	if !knownDeviceType(raw) {
		name, _ := GetString(data, "name")
		client.logger.Warn("encountered unknown device type",
			"type", raw,
			"name", name,
		)
		deviceType = DeviceTypeUnknown
	}

	return baseSensor{client: client, data: data, deviceType: deviceType}
}

// Name returns the user-assigned sensor name.
func (s *baseSensor) Name() string {
	name, _ := GetString(s.data, "name")
	return name
}

// Serial returns the sensor serial.
func (s *baseSensor) Serial() string {
	serial, _ := GetString(s.data, "serial")
	return serial
}

// Type returns the device type.
func (s *baseSensor) Type() DeviceType {
	return s.deviceType
}

// SensorV2 is a sensor paired to an original-generation system. V2 hardware
// packs sensor state into bitfields.
type SensorV2 struct {
	baseSensor
}

func newSensorV2(client *Client, data map[string]any) *SensorV2 {
	return &SensorV2{baseSensor: newBaseSensor(client, data)}
}

// Data returns the raw data bitfield reported by the sensor.
func (s *SensorV2) Data() int {
	data, _ := GetInt(s.data, "sensorData")
	return data
}

// Error returns whether the sensor is reporting an error.
func (s *SensorV2) Error() bool {
	err, _ := GetBool(s.data, "error")
	return err
}

// LowBattery returns whether the sensor's battery is low. V2 hardware
// reports battery health as a good/bad flag.
func (s *SensorV2) LowBattery() bool {
	healthy, ok := GetBool(s.data, "battery")
	if !ok {
		return false
	}
	return !healthy
}

// Triggered returns whether the sensor is currently triggered. The bit that
// carries the triggered state varies by device type; types that have no
// triggered concept always return false.
func (s *SensorV2) Triggered() bool {
	switch s.deviceType {
	case DeviceTypeEntry:
		return s.Data()&0x2 != 0
	case DeviceTypeMotion, DeviceTypeGlassBreak, DeviceTypeCarbonMonoxide,
		DeviceTypeSmoke, DeviceTypeLeak, DeviceTypeTemperature:
		return s.Data() != 0
	default:
		return false
	}
}

// TriggerInstantly returns whether the sensor bypasses the entry delay.
func (s *SensorV2) TriggerInstantly() bool {
	instant, _ := GetBool(s.data, "instant")
	return instant
}

// SensorV3 is a sensor paired to a current-generation system.
type SensorV3 struct {
	baseSensor
}

func newSensorV3(client *Client, data map[string]any) *SensorV3 {
	return &SensorV3{baseSensor: newBaseSensor(client, data)}
}

// Error returns whether the sensor is reporting an error.
func (s *SensorV3) Error() bool {
	err, _ := GetBool(s.data, "status", "malfunction")
	return err
}

// LowBattery returns whether the sensor's battery is low.
func (s *SensorV3) LowBattery() bool {
	low, _ := GetBool(s.data, "flags", "lowBattery")
	return low
}

// Offline returns whether the sensor is offline.
func (s *SensorV3) Offline() bool {
	offline, _ := GetBool(s.data, "flags", "offline")
	return offline
}

// Triggered returns whether the sensor is currently triggered.
func (s *SensorV3) Triggered() bool {
	triggered, _ := GetBool(s.data, "status", "triggered")
	return triggered
}

// TriggerInstantly returns whether the sensor bypasses the entry delay.
func (s *SensorV3) TriggerInstantly() bool {
	instant, _ := GetBool(s.data, "setting", "instantTrigger")
	return instant
}

// Temperature returns the sensor's temperature reading in Fahrenheit.
// Returns ErrNoTemperature for sensors that are not temperature sensors.
func (s *SensorV3) Temperature() (int, error) {
	if s.deviceType != DeviceTypeTemperature {
		return 0, ErrNoTemperature
	}
	temp, _ := GetInt(s.data, "status", "temperature")
	return temp, nil
}
