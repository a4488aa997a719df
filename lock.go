package simplisafe

import (
	"context"
	"fmt"
)

// LockState describes the bolt position of a smart lock.
type LockState int

// Lock states as reported in sensor snapshots.
const (
	LockStateUnlocked LockState = 0
	LockStateLocked   LockState = 1
	LockStateJammed   LockState = 2
	LockStateUnknown  LockState = 99
)

// String implements fmt.Stringer.
func (s LockState) String() string {
	switch s {
	case LockStateUnlocked:
		return "unlocked"
	case LockStateLocked:
		return "locked"
	case LockStateJammed:
		return "jammed"
	default:
		return "unknown"
	}
}

// Lock is a smart lock paired to a V3 system. Locks appear in the sensor
// list but carry their own state and accept lock/unlock commands.
type Lock struct {
	client   *Client
	systemID int64
	data     map[string]any
}

func newLock(client *Client, systemID int64, data map[string]any) *Lock {
	return &Lock{client: client, systemID: systemID, data: data}
}

// Name returns the user-assigned lock name.
func (l *Lock) Name() string {
	name, _ := GetString(l.data, "name")
	return name
}

// Serial returns the lock serial.
func (l *Lock) Serial() string {
	serial, _ := GetString(l.data, "serial")
	return serial
}

// State returns the bolt position.
func (l *Lock) State() LockState {
	if jammed, _ := GetBool(l.data, "status", "lockJamState"); jammed {
		return LockStateJammed
	}
	raw, ok := GetInt(l.data, "status", "lockState")
	if !ok {
		return LockStateUnknown
	}
	switch state := LockState(raw); state {
	case LockStateUnlocked, LockStateLocked:
		return state
	default:
		l.client.logger.Warn("encountered unknown lock state", "state", raw)
		return LockStateUnknown
	}
}

// Disabled returns whether the lock is disabled.
func (l *Lock) Disabled() bool {
	disabled, _ := GetBool(l.data, "status", "lockDisabled")
	return disabled
}

// LowBattery returns whether the lock's battery is low.
func (l *Lock) LowBattery() bool {
	low, _ := GetBool(l.data, "status", "lockLowBattery")
	return low
}

// PinPadLowBattery returns whether the lock's pin pad battery is low.
func (l *Lock) PinPadLowBattery() bool {
	low, _ := GetBool(l.data, "status", "pinPadLowBattery")
	return low
}

// PinPadOffline returns whether the lock's pin pad is offline.
func (l *Lock) PinPadOffline() bool {
	offline, _ := GetBool(l.data, "status", "pinPadOffline")
	return offline
}

// Lock engages the bolt.
func (l *Lock) Lock(ctx context.Context) error {
	return l.setState(ctx, "lock")
}

// Unlock retracts the bolt.
func (l *Lock) Unlock(ctx context.Context) error {
	return l.setState(ctx, "unlock")
}

func (l *Lock) setState(ctx context.Context, state string) error {
	endpoint := fmt.Sprintf("doorlock/%d/%s/state", l.systemID, l.Serial())
	_, err := l.client.post(ctx, endpoint, map[string]string{"state": state})
	return err
}
