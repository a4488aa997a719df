package simplisafe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SystemState describes the arm state of a security system.
type SystemState string

// States a system can be in. The *_count states are transitional values the
// base station reports while a state change is being counted down.
const (
	SystemStateAlarm      SystemState = "alarm"
	SystemStateAlarmCount SystemState = "alarm_count"
	SystemStateAway       SystemState = "away"
	SystemStateAwayCount  SystemState = "away_count"
	SystemStateEntryDelay SystemState = "entry_delay"
	SystemStateError      SystemState = "error"
	SystemStateExitDelay  SystemState = "exit_delay"
	SystemStateHome       SystemState = "home"
	SystemStateHomeCount  SystemState = "home_count"
	SystemStateOff        SystemState = "off"
	SystemStateTest       SystemState = "test"
	SystemStateUnknown    SystemState = "unknown"
)

// PIN labels for the two fixed, non-user PINs.
const (
	PINLabelMaster = "master"
	PINLabelDuress = "duress"
)

// maxUserPINs is the number of user PIN slots a base station exposes.
const maxUserPINs = 4

// System is a SimpliSafe security system attached to a location. The
// concrete type depends on the hardware generation reported in the
// subscription snapshot: V2 (original) or V3 (current).
type System interface {
	// SystemID returns the subscription ID of the system.
	SystemID() int64
	// SerialNumber returns the base station serial.
	SerialNumber() string
	// Version returns the hardware generation (2 or 3).
	Version() int
	// State returns the last known arm state.
	State() SystemState
	// AlarmGoingOff returns whether the alarm is currently sounding.
	AlarmGoingOff() bool
	// Address returns the street address of the system's location.
	Address() string
	// Active returns whether the subscription is active.
	Active() bool
	// Sensors returns the system's sensors keyed by serial.
	Sensors() map[string]Sensor

	// SetState arms or disarms the system. Valid targets are
	// SystemStateHome, SystemStateAway, and SystemStateOff.
	SetState(ctx context.Context, state SystemState) error
	// Update refetches the subscription snapshot and sensor data.
	Update(ctx context.Context, cached bool) error
	// UpdateSensors refetches only the sensor data.
	UpdateSensors(ctx context.Context, cached bool) error
	// Events returns the system's event history, newest first.
	Events(ctx context.Context, from time.Time, numEvents int) ([]map[string]any, error)
	// PINs returns the configured PINs keyed by label, including
	// PINLabelMaster and PINLabelDuress.
	PINs(ctx context.Context, cached bool) (map[string]string, error)
	// SetPINs replaces the full PIN configuration. The map must include
	// PINLabelMaster and PINLabelDuress; remaining entries are user PINs.
	SetPINs(ctx context.Context, pins map[string]string) error
	// SetPIN creates or replaces a single PIN by label.
	SetPIN(ctx context.Context, label, pin string) error
	// RemovePIN removes a user PIN by label. The master and duress PINs
	// cannot be removed.
	RemovePIN(ctx context.Context, label string) error
}

// coerceSystemState maps a raw API state string onto a SystemState. Unknown
// raw values are logged and mapped to SystemStateUnknown, never an error.
func (c *Client) coerceSystemState(raw string) SystemState {
	state := SystemState(strings.ToLower(raw))
	switch state {
	case SystemStateAlarm, SystemStateAlarmCount, SystemStateAway,
		SystemStateAwayCount, SystemStateEntryDelay, SystemStateError,
		SystemStateExitDelay, SystemStateHome, SystemStateHomeCount,
		SystemStateOff, SystemStateTest:
		return state
	}
	c.logger.Warn("encountered unknown system state", "state", raw)
	return SystemStateUnknown
}

// Systems fetches the account's active subscriptions and builds a System for
// each, keyed by system ID. Subscriptions with missing system data are
// logged and skipped.
func (c *Client) Systems(ctx context.Context) (map[int64]System, error) {
	resp, err := c.get(ctx, fmt.Sprintf("users/%d/subscriptions?activeOnly=true", c.UserID()))
	if err != nil {
		return nil, err
	}

	systems := make(map[int64]System)

	subs, _ := GetSlice(resp, "subscriptions")
	for _, raw := range subs {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		version, ok := GetInt(sub, "location", "system", "version")
		if !ok {
			sid, _ := GetInt64(sub, "sid")
			c.logger.Error("skipping location with missing system data", "sid", sid)
			continue
		}

		sid, ok := GetInt64(sub, "sid")
		if !ok {
			continue
		}

		var system System
		if version == 2 {
			system = newSystemV2(c, sid, sub)
		} else {
			system = newSystemV3(c, sid, sub)
		}

		if !system.Active() {
			c.logger.Info("skipping deactivated system", "sid", sid)
			continue
		}

		if err := system.UpdateSensors(ctx, true); err != nil {
			return nil, err
		}

		systems[sid] = system
	}

	return systems, nil
}

// baseSystem holds the behavior shared by both hardware generations.
type baseSystem struct {
	client   *Client
	systemID int64

	data       map[string]any
	state      SystemState
	sensorData map[string]map[string]any
	sensors    map[string]Sensor
}

func newBaseSystem(client *Client, systemID int64, snapshot map[string]any) baseSystem {
	s := baseSystem{
		client:     client,
		systemID:   systemID,
		sensorData: make(map[string]map[string]any),
		sensors:    make(map[string]Sensor),
	}
	s.applySnapshot(snapshot)
	return s
}

// applySnapshot installs a fresh subscription snapshot.
func (s *baseSystem) applySnapshot(snapshot map[string]any) {
	s.data = snapshot
	rawState, _ := GetString(snapshot, "location", "system", "alarmState")
	s.state = s.client.coerceSystemState(rawState)
}

// SystemID returns the subscription ID of the system.
func (s *baseSystem) SystemID() int64 {
	return s.systemID
}

// SerialNumber returns the base station serial.
func (s *baseSystem) SerialNumber() string {
	serial, _ := GetString(s.data, "location", "system", "serial")
	return serial
}

// Version returns the hardware generation.
func (s *baseSystem) Version() int {
	version, _ := GetInt(s.data, "location", "system", "version")
	return version
}

// State returns the last known arm state.
func (s *baseSystem) State() SystemState {
	return s.state
}

// AlarmGoingOff returns whether the alarm is currently sounding.
func (s *baseSystem) AlarmGoingOff() bool {
	alarming, _ := GetBool(s.data, "location", "system", "isAlarming")
	return alarming
}

// Address returns the street address of the system's location.
func (s *baseSystem) Address() string {
	address, _ := GetString(s.data, "location", "street1")
	return address
}

// Active returns whether the subscription is active.
func (s *baseSystem) Active() bool {
	activated, _ := GetInt64(s.data, "activated")
	return activated != 0
}

// Sensors returns the system's sensors keyed by serial.
func (s *baseSystem) Sensors() map[string]Sensor {
	return s.sensors
}

// updateSnapshot refetches the subscription snapshot.
func (s *baseSystem) updateSnapshot(ctx context.Context) error {
	resp, err := s.client.get(ctx, fmt.Sprintf("users/%d/subscriptions/%d/", s.client.UserID(), s.systemID))
	if err != nil {
		return err
	}

	if sub, ok := GetMap(resp, "subscription"); ok {
		s.applySnapshot(sub)
	}
	return nil
}

// Events returns the system's event history, newest first. A zero from time
// and a zero numEvents leave the server defaults in place.
func (s *baseSystem) Events(ctx context.Context, from time.Time, numEvents int) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("subscriptions/%d/events", s.systemID)

	params := make([]string, 0, 2)
	if !from.IsZero() {
		params = append(params, "fromTimestamp="+strconv.FormatInt(from.Unix(), 10))
	}
	if numEvents > 0 {
		params = append(params, "numEvents="+strconv.Itoa(numEvents))
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}

	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	raw, _ := GetSlice(resp, "events")
	events := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if event, ok := item.(map[string]any); ok {
			events = append(events, event)
		}
	}

	return events, nil
}

// validateStateTarget rejects arm states a caller cannot request directly.
func validateStateTarget(state SystemState) error {
	switch state {
	case SystemStateHome, SystemStateAway, SystemStateOff:
		return nil
	default:
		return fmt.Errorf("simplisafe: cannot set system state to %q", state)
	}
}

// validatePINs checks a full PIN configuration before it is posted.
func validatePINs(pins map[string]string) error {
	if _, ok := pins[PINLabelMaster]; !ok {
		return fmt.Errorf("simplisafe: PIN configuration must include the %s PIN", PINLabelMaster)
	}
	if _, ok := pins[PINLabelDuress]; !ok {
		return fmt.Errorf("simplisafe: PIN configuration must include the %s PIN", PINLabelDuress)
	}
	if len(pins)-2 > maxUserPINs {
		return ErrMaxPINs
	}
	for label, pin := range pins {
		if len(pin) != 4 {
			return fmt.Errorf("%w: %q", ErrInvalidPIN, label)
		}
		for _, r := range pin {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: %q", ErrInvalidPIN, label)
			}
		}
	}
	return nil
}

// setSinglePIN fetches the latest PIN configuration, applies one change, and
// writes the full configuration back. A pin value already assigned to another
// label is refused: duplicate PINs make disarm events ambiguous.
func setSinglePIN(ctx context.Context, s System, label, pin string) error {
	pins, err := s.PINs(ctx, false)
	if err != nil {
		return err
	}

	for existing, value := range pins {
		if existing != label && value == pin {
			return fmt.Errorf("simplisafe: PIN %q is already in use by %q", pin, existing)
		}
	}

	pins[label] = pin
	return s.SetPINs(ctx, pins)
}

// removeSinglePIN fetches the latest PIN configuration, drops one user PIN,
// and writes the configuration back.
func removeSinglePIN(ctx context.Context, s System, label string) error {
	if label == PINLabelMaster || label == PINLabelDuress {
		return fmt.Errorf("simplisafe: the %s PIN cannot be removed", label)
	}

	pins, err := s.PINs(ctx, false)
	if err != nil {
		return err
	}
	if _, ok := pins[label]; !ok {
		return fmt.Errorf("simplisafe: no PIN with label %q", label)
	}

	delete(pins, label)
	return s.SetPINs(ctx, pins)
}

// SystemV2 is an original-generation system.
type SystemV2 struct {
	baseSystem
}

func newSystemV2(client *Client, systemID int64, snapshot map[string]any) *SystemV2 {
	return &SystemV2{baseSystem: newBaseSystem(client, systemID, snapshot)}
}

// SetState arms or disarms the system.
func (s *SystemV2) SetState(ctx context.Context, state SystemState) error {
	if err := validateStateTarget(state); err != nil {
		return err
	}

	resp, err := s.client.post(ctx, fmt.Sprintf("subscriptions/%d/state?state=%s", s.systemID, state), nil)
	if err != nil {
		return err
	}

	if success, _ := GetBool(resp, "success"); success {
		if requested, ok := GetString(resp, "requestedState"); ok {
			s.state = s.client.coerceSystemState(requested)
		}
	}
	return nil
}

// Update refetches the subscription snapshot and sensor data.
func (s *SystemV2) Update(ctx context.Context, cached bool) error {
	if err := s.updateSnapshot(ctx); err != nil {
		return err
	}
	return s.UpdateSensors(ctx, cached)
}

// UpdateSensors refetches the sensor data and rebuilds the sensor objects.
func (s *SystemV2) UpdateSensors(ctx context.Context, cached bool) error {
	endpoint := fmt.Sprintf("subscriptions/%d/settings?settingsType=all&cached=%t", s.systemID, cached)
	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return err
	}

	raw, _ := GetSlice(resp, "settings", "sensors")
	for _, item := range raw {
		sensor, ok := item.(map[string]any)
		if !ok || len(sensor) == 0 {
			continue
		}
		serial, ok := GetString(sensor, "serial")
		if !ok {
			continue
		}
		s.sensorData[serial] = sensor
		s.sensors[serial] = newSensorV2(s.client, sensor)
	}

	return nil
}

// PINs returns the configured PINs keyed by label.
func (s *SystemV2) PINs(ctx context.Context, cached bool) (map[string]string, error) {
	endpoint := fmt.Sprintf("subscriptions/%d/pins?settingsType=all&cached=%t", s.systemID, cached)
	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	pins := make(map[string]string)
	if master, ok := GetString(resp, "pins", "pin1", "value"); ok {
		pins[PINLabelMaster] = master
	}
	if duress, ok := GetString(resp, "pins", "duress", "value"); ok {
		pins[PINLabelDuress] = duress
	}

	rawPins, _ := GetMap(resp, "pins")
	for slot, raw := range rawPins {
		if slot == "pin1" || slot == "duress" {
			continue
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		value, _ := GetString(entry, "value")
		name, _ := GetString(entry, "name")
		if value != "" && name != "" {
			pins[name] = value
		}
	}

	return pins, nil
}

// SetPINs replaces the full PIN configuration.
func (s *SystemV2) SetPINs(ctx context.Context, pins map[string]string) error {
	if err := validatePINs(pins); err != nil {
		return err
	}

	payload := map[string]map[string]map[string]string{
		"pins": {
			"duress": {"value": pins[PINLabelDuress]},
			"pin1":   {"value": pins[PINLabelMaster]},
		},
	}

	slot := 2
	for label, pin := range pins {
		if label == PINLabelMaster || label == PINLabelDuress {
			continue
		}
		payload["pins"][fmt.Sprintf("pin%d", slot)] = map[string]string{"name": label, "value": pin}
		slot++
	}
	for ; slot <= maxUserPINs+1; slot++ {
		payload["pins"][fmt.Sprintf("pin%d", slot)] = map[string]string{"name": "", "value": ""}
	}

	_, err := s.client.post(ctx, fmt.Sprintf("subscriptions/%d/pins", s.systemID), payload)
	return err
}

// SetPIN creates or replaces a single PIN by label.
func (s *SystemV2) SetPIN(ctx context.Context, label, pin string) error {
	return setSinglePIN(ctx, s, label, pin)
}

// RemovePIN removes a user PIN by label.
func (s *SystemV2) RemovePIN(ctx context.Context, label string) error {
	return removeSinglePIN(ctx, s, label)
}

// SystemV3 is a current-generation system with base station settings and
// cameras.
type SystemV3 struct {
	baseSystem

	settingsData map[string]any
	cameras      map[string]*Camera
	locks        map[string]*Lock
}

func newSystemV3(client *Client, systemID int64, snapshot map[string]any) *SystemV3 {
	s := &SystemV3{
		baseSystem: newBaseSystem(client, systemID, snapshot),
		cameras:    make(map[string]*Camera),
		locks:      make(map[string]*Lock),
	}
	s.rebuildCameras()
	return s
}

// rebuildCameras constructs camera objects from the current snapshot.
func (s *SystemV3) rebuildCameras() {
	s.cameras = make(map[string]*Camera)
	raw, _ := GetSlice(s.data, "location", "system", "cameras")
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uuid, ok := GetString(data, "uuid")
		if !ok {
			continue
		}
		s.cameras[uuid] = newCamera(s.client, uuid, data)
	}
}

// Cameras returns the system's cameras keyed by UUID.
func (s *SystemV3) Cameras() map[string]*Camera {
	return s.cameras
}

// Locks returns the system's locks keyed by serial.
func (s *SystemV3) Locks() map[string]*Lock {
	return s.locks
}

// Offline returns whether the base station is offline.
func (s *SystemV3) Offline() bool {
	offline, _ := GetBool(s.data, "location", "system", "isOffline")
	return offline
}

// PowerOutage returns whether the system is experiencing a power outage.
func (s *SystemV3) PowerOutage() bool {
	outage, _ := GetBool(s.data, "location", "system", "powerOutage")
	return outage
}

// SetState arms or disarms the system.
func (s *SystemV3) SetState(ctx context.Context, state SystemState) error {
	if err := validateStateTarget(state); err != nil {
		return err
	}

	resp, err := s.client.post(ctx, fmt.Sprintf("ss3/subscriptions/%d/state/%s", s.systemID, state), nil)
	if err != nil {
		return err
	}

	if raw, ok := GetString(resp, "state"); ok {
		s.state = s.client.coerceSystemState(raw)
	}
	return nil
}

// Update refetches the subscription snapshot, sensor data, and settings.
func (s *SystemV3) Update(ctx context.Context, cached bool) error {
	if err := s.updateSnapshot(ctx); err != nil {
		return err
	}
	s.rebuildCameras()

	if err := s.UpdateSensors(ctx, cached); err != nil {
		return err
	}
	return s.UpdateSettings(ctx, cached)
}

// UpdateSensors refetches the sensor data and rebuilds sensor and lock
// objects.
func (s *SystemV3) UpdateSensors(ctx context.Context, cached bool) error {
	endpoint := fmt.Sprintf("ss3/subscriptions/%d/sensors?forceUpdate=%t", s.systemID, !cached)
	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return err
	}

	raw, _ := GetSlice(resp, "sensors")
	for _, item := range raw {
		sensor, ok := item.(map[string]any)
		if !ok || len(sensor) == 0 {
			continue
		}
		serial, ok := GetString(sensor, "serial")
		if !ok {
			continue
		}
		s.sensorData[serial] = sensor

		if deviceType, _ := GetInt(sensor, "type"); DeviceType(deviceType) == DeviceTypeLock {
			s.locks[serial] = newLock(s.client, s.systemID, sensor)
			continue
		}
		s.sensors[serial] = newSensorV3(s.client, sensor)
	}

	return nil
}

// UpdateSettings refetches the base station settings.
func (s *SystemV3) UpdateSettings(ctx context.Context, cached bool) error {
	endpoint := fmt.Sprintf("ss3/subscriptions/%d/settings/normal?forceUpdate=%t", s.systemID, !cached)
	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return err
	}

	if len(resp) > 0 {
		s.settingsData = resp
	}
	return nil
}

// Settings properties. Zero values are returned when the settings have not
// been fetched yet.

// AlarmDuration returns the number of seconds an activated alarm sounds for.
func (s *SystemV3) AlarmDuration() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "alarmDuration")
	return v
}

// AlarmVolume returns the alarm volume (0 off through 3 high).
func (s *SystemV3) AlarmVolume() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "alarmVolume")
	return v
}

// ChimeVolume returns the door chime volume (0 off through 3 high).
func (s *SystemV3) ChimeVolume() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "doorChime")
	return v
}

// EntryDelayAway returns the entry delay for the away state, in seconds.
func (s *SystemV3) EntryDelayAway() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "entryDelayAway")
	return v
}

// EntryDelayHome returns the entry delay for the home state, in seconds.
func (s *SystemV3) EntryDelayHome() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "entryDelayHome")
	return v
}

// ExitDelayAway returns the exit delay for the away state, in seconds.
func (s *SystemV3) ExitDelayAway() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "exitDelayAway")
	return v
}

// ExitDelayHome returns the exit delay for the home state, in seconds.
func (s *SystemV3) ExitDelayHome() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "exitDelayHome")
	return v
}

// Light returns whether the base station light is on.
func (s *SystemV3) Light() bool {
	v, _ := GetBool(s.settingsData, "settings", "normal", "light")
	return v
}

// VoicePromptVolume returns the voice prompt volume (0 off through 3 high).
func (s *SystemV3) VoicePromptVolume() int {
	v, _ := GetInt(s.settingsData, "settings", "normal", "voicePrompts")
	return v
}

// BatteryBackupPowerLevel returns the power rating of the battery backup.
func (s *SystemV3) BatteryBackupPowerLevel() int {
	v, _ := GetInt(s.settingsData, "basestationStatus", "backupBattery")
	return v
}

// GSMStrength returns the signal strength of the cell antenna.
func (s *SystemV3) GSMStrength() int {
	v, _ := GetInt(s.settingsData, "basestationStatus", "gsmRssi")
	return v
}

// WallPowerLevel returns the power rating of the A/C outlet.
func (s *SystemV3) WallPowerLevel() int {
	v, _ := GetInt(s.settingsData, "basestationStatus", "wallPower")
	return v
}

// WiFiSSID returns the SSID the base station is joined to.
func (s *SystemV3) WiFiSSID() string {
	v, _ := GetString(s.settingsData, "settings", "normal", "wifiSSID")
	return v
}

// WiFiStrength returns the signal strength of the wifi antenna.
func (s *SystemV3) WiFiStrength() int {
	v, _ := GetInt(s.settingsData, "basestationStatus", "wifiRssi")
	return v
}

// RFJamming returns whether the base station is noticing RF jamming.
func (s *SystemV3) RFJamming() bool {
	v, _ := GetBool(s.settingsData, "basestationStatus", "rfJamming")
	return v
}

// SettingsUpdate carries the base station settings SetSettings can change.
// Nil fields are left unchanged.
type SettingsUpdate struct {
	AlarmDuration     *int  // seconds, 30-480
	AlarmVolume       *int  // 0 (off) through 3 (high)
	ChimeVolume       *int  // 0 (off) through 3 (high)
	EntryDelayAway    *int  // seconds, 30-255
	EntryDelayHome    *int  // seconds, 0-255
	ExitDelayAway     *int  // seconds, 45-255
	ExitDelayHome     *int  // seconds, 0-255
	Light             *bool // base station light
	VoicePromptVolume *int  // 0 (off) through 3 (high)
}

// validate checks every set field against the base station's accepted
// ranges.
func (u *SettingsUpdate) validate() error {
	check := func(name string, value *int, min, max int) error {
		if value != nil && (*value < min || *value > max) {
			return fmt.Errorf("%w: %s must be between %d and %d", ErrSettingOutOfRange, name, min, max)
		}
		return nil
	}

	checks := []error{
		check("alarm duration", u.AlarmDuration, 30, 480),
		check("alarm volume", u.AlarmVolume, 0, 3),
		check("chime volume", u.ChimeVolume, 0, 3),
		check("entry delay away", u.EntryDelayAway, 30, 255),
		check("entry delay home", u.EntryDelayHome, 0, 255),
		check("exit delay away", u.ExitDelayAway, 45, 255),
		check("exit delay home", u.ExitDelayHome, 0, 255),
		check("voice prompt volume", u.VoicePromptVolume, 0, 3),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// payload builds the settings payload with only the set fields.
func (u *SettingsUpdate) payload() map[string]any {
	normal := make(map[string]any)
	if u.AlarmDuration != nil {
		normal["alarmDuration"] = *u.AlarmDuration
	}
	if u.AlarmVolume != nil {
		normal["alarmVolume"] = *u.AlarmVolume
	}
	if u.ChimeVolume != nil {
		normal["doorChime"] = *u.ChimeVolume
	}
	if u.EntryDelayAway != nil {
		normal["entryDelayAway"] = *u.EntryDelayAway
	}
	if u.EntryDelayHome != nil {
		normal["entryDelayHome"] = *u.EntryDelayHome
	}
	if u.ExitDelayAway != nil {
		normal["exitDelayAway"] = *u.ExitDelayAway
	}
	if u.ExitDelayHome != nil {
		normal["exitDelayHome"] = *u.ExitDelayHome
	}
	if u.Light != nil {
		normal["light"] = *u.Light
	}
	if u.VoicePromptVolume != nil {
		normal["voicePrompts"] = *u.VoicePromptVolume
	}
	return map[string]any{"normal": normal}
}

// SetSettings changes base station settings. Fields left nil are unchanged;
// values outside the accepted ranges return ErrSettingOutOfRange.
func (s *SystemV3) SetSettings(ctx context.Context, update *SettingsUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}

	resp, err := s.client.post(ctx, fmt.Sprintf("ss3/subscriptions/%d/settings/normal", s.systemID), update.payload())
	if err != nil {
		return err
	}

	if len(resp) > 0 {
		s.settingsData = resp
	}
	return nil
}

// SetPIN creates or replaces a single PIN by label.
func (s *SystemV3) SetPIN(ctx context.Context, label, pin string) error {
	return setSinglePIN(ctx, s, label, pin)
}

// RemovePIN removes a user PIN by label.
func (s *SystemV3) RemovePIN(ctx context.Context, label string) error {
	return removeSinglePIN(ctx, s, label)
}

// PINs returns the configured PINs keyed by label.
func (s *SystemV3) PINs(ctx context.Context, cached bool) (map[string]string, error) {
	endpoint := fmt.Sprintf("ss3/subscriptions/%d/settings/pins?forceUpdate=%t", s.systemID, !cached)
	resp, err := s.client.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	pins := make(map[string]string)
	if master, ok := GetString(resp, "settings", "pins", "master", "pin"); ok {
		pins[PINLabelMaster] = master
	}
	if duress, ok := GetString(resp, "settings", "pins", "duress", "pin"); ok {
		pins[PINLabelDuress] = duress
	}

	users, _ := GetSlice(resp, "settings", "pins", "users")
	for _, raw := range users {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pin, _ := GetString(entry, "pin")
		name, _ := GetString(entry, "name")
		if pin != "" && name != "" {
			pins[name] = pin
		}
	}

	return pins, nil
}

// SetPINs replaces the full PIN configuration.
func (s *SystemV3) SetPINs(ctx context.Context, pins map[string]string) error {
	if err := validatePINs(pins); err != nil {
		return err
	}

	users := make(map[string]map[string]string)
	slot := 0
	for label, pin := range pins {
		if label == PINLabelMaster || label == PINLabelDuress {
			continue
		}
		users[strconv.Itoa(slot)] = map[string]string{"name": label, "pin": pin}
		slot++
	}
	for ; slot < maxUserPINs; slot++ {
		users[strconv.Itoa(slot)] = map[string]string{"name": "", "pin": ""}
	}

	payload := map[string]any{
		"pins": map[string]any{
			PINLabelDuress: map[string]string{"pin": pins[PINLabelDuress]},
			PINLabelMaster: map[string]string{"pin": pins[PINLabelMaster]},
		},
		"users": users,
	}

	resp, err := s.client.Request(ctx, http.MethodPost, fmt.Sprintf("ss3/subscriptions/%d/settings/pins", s.systemID), payload)
	if err != nil {
		return err
	}

	if len(resp) > 0 {
		s.settingsData = resp
	}
	return nil
}
