package simplisafe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subscriptionFixture builds the account snapshot the test server serves:
// one V2 system, one V3 system with a lock and a camera, one subscription
// with missing system data, and one deactivated subscription.
func subscriptionFixture() map[string]any {
	return map[string]any{
		"subscriptions": []any{
			map[string]any{
				"sid":       float64(100),
				"activated": float64(1700000000),
				"location": map[string]any{
					"street1": "123 Main St",
					"system": map[string]any{
						"version":    float64(2),
						"serial":     "v2-serial",
						"alarmState": "OFF",
						"isAlarming": false,
					},
				},
			},
			map[string]any{
				"sid":       float64(200),
				"activated": float64(1700000000),
				"location": map[string]any{
					"street1": "456 Oak Ave",
					"system": map[string]any{
						"version":    float64(3),
						"serial":     "v3-serial",
						"alarmState": "AWAY",
						"isAlarming": false,
						"isOffline":  false,
						"cameras": []any{
							map[string]any{
								"uuid":   "cam-uuid-1",
								"model":  "SS001",
								"status": "online",
								"cameraSettings": map[string]any{
									"cameraName":  "Porch",
									"shutterOff":  "open",
									"shutterHome": "closed",
									"shutterAway": "closed",
								},
							},
						},
					},
				},
			},
			map[string]any{
				"sid":       float64(300),
				"activated": float64(1700000000),
				"location":  map[string]any{},
			},
			map[string]any{
				"sid":       float64(400),
				"activated": float64(0),
				"location": map[string]any{
					"system": map[string]any{"version": float64(3)},
				},
			},
		},
	}
}

func newSystemsServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/12345/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("activeOnly"))
		json.NewEncoder(w).Encode(subscriptionFixture())
	})
	mux.HandleFunc("/subscriptions/100/settings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"settings": map[string]any{
				"sensors": []any{
					map[string]any{
						"serial":     "s2-entry",
						"name":       "Front Door",
						"type":       float64(5),
						"sensorData": float64(2),
						"battery":    true,
						"error":      false,
						"instant":    false,
					},
				},
			},
		})
	})
	mux.HandleFunc("/ss3/subscriptions/200/sensors", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sensors": []any{
				map[string]any{
					"serial": "s3-entry",
					"name":   "Back Door",
					"type":   float64(5),
					"status": map[string]any{"triggered": true},
					"flags":  map[string]any{"lowBattery": false, "offline": false},
				},
				map[string]any{
					"serial": "s3-temp",
					"name":   "Basement",
					"type":   float64(10),
					"status": map[string]any{"temperature": float64(68)},
					"flags":  map[string]any{"lowBattery": true},
				},
				map[string]any{
					"serial": "lock-1",
					"name":   "Front Lock",
					"type":   float64(16),
					"status": map[string]any{
						"lockState":      float64(1),
						"lockJamState":   false,
						"lockDisabled":   false,
						"lockLowBattery": false,
					},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mux
}

func newSystemsClient(t *testing.T) (*Client, *http.ServeMux) {
	srv, mux := newSystemsServer(t)
	c := newTestClient(srv)
	authenticate(c, TokenSet{AccessToken: "access-1", RefreshToken: "refresh-1", UserID: 12345})
	return c, mux
}

func TestSystems(t *testing.T) {
	c, _ := newSystemsClient(t)

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	require.Len(t, systems, 2, "missing-version and deactivated subscriptions are skipped")

	t.Run("v2 system", func(t *testing.T) {
		system, ok := systems[100].(*SystemV2)
		require.True(t, ok, "sid 100 should build a SystemV2")
		assert.Equal(t, int64(100), system.SystemID())
		assert.Equal(t, 2, system.Version())
		assert.Equal(t, "v2-serial", system.SerialNumber())
		assert.Equal(t, "123 Main St", system.Address())
		assert.Equal(t, SystemStateOff, system.State())
		assert.False(t, system.AlarmGoingOff())

		require.Len(t, system.Sensors(), 1)
		sensor := system.Sensors()["s2-entry"]
		assert.Equal(t, DeviceTypeEntry, sensor.Type())
		assert.True(t, sensor.Triggered(), "entry sensor with the open bit set is triggered")
		assert.False(t, sensor.LowBattery())
	})

	t.Run("v3 system", func(t *testing.T) {
		system, ok := systems[200].(*SystemV3)
		require.True(t, ok, "sid 200 should build a SystemV3")
		assert.Equal(t, SystemStateAway, system.State())
		assert.False(t, system.Offline())

		require.Len(t, system.Sensors(), 2, "locks are split out of the sensor list")
		require.Len(t, system.Locks(), 1)
		require.Len(t, system.Cameras(), 1)

		entry := system.Sensors()["s3-entry"]
		assert.True(t, entry.Triggered())

		temp, ok := system.Sensors()["s3-temp"].(*SensorV3)
		require.True(t, ok)
		assert.True(t, temp.LowBattery())
		reading, err := temp.Temperature()
		require.NoError(t, err)
		assert.Equal(t, 68, reading)

		lock := system.Locks()["lock-1"]
		assert.Equal(t, LockStateLocked, lock.State())
	})
}

func TestCoerceSystemState(t *testing.T) {
	c := NewClient()

	assert.Equal(t, SystemStateOff, c.coerceSystemState("OFF"))
	assert.Equal(t, SystemStateAway, c.coerceSystemState("away"))
	assert.Equal(t, SystemStateEntryDelay, c.coerceSystemState("ENTRY_DELAY"))
	assert.Equal(t, SystemStateUnknown, c.coerceSystemState("NOT_REAL"))
	assert.Equal(t, SystemStateUnknown, c.coerceSystemState(""))
}

func TestSystemV2SetState(t *testing.T) {
	c, mux := newSystemsClient(t)
	mux.HandleFunc("/subscriptions/100/state", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "away", r.URL.Query().Get("state"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "requestedState": "AWAY"})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[100]

	require.NoError(t, system.SetState(context.Background(), SystemStateAway))
	assert.Equal(t, SystemStateAway, system.State())

	err = system.SetState(context.Background(), SystemStateAlarm)
	assert.Error(t, err, "alarm is not a requestable state")
}

func TestSystemV3SetState(t *testing.T) {
	c, mux := newSystemsClient(t)
	mux.HandleFunc("/ss3/subscriptions/200/state/home", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]any{"state": "HOME"})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[200]

	require.NoError(t, system.SetState(context.Background(), SystemStateHome))
	assert.Equal(t, SystemStateHome, system.State())
}

func TestSystemV3Settings(t *testing.T) {
	c, mux := newSystemsClient(t)

	settingsPayload := map[string]any{
		"basestationStatus": map[string]any{
			"backupBattery": float64(100),
			"gsmRssi":       float64(-73),
			"wallPower":     float64(5),
			"wifiRssi":      float64(-49),
			"rfJamming":     false,
		},
		"settings": map[string]any{
			"normal": map[string]any{
				"alarmDuration":  float64(240),
				"alarmVolume":    float64(3),
				"doorChime":      float64(2),
				"entryDelayAway": float64(30),
				"entryDelayHome": float64(30),
				"exitDelayAway":  float64(60),
				"exitDelayHome":  float64(0),
				"light":          true,
				"voicePrompts":   float64(2),
				"wifiSSID":       "home-wifi",
			},
		},
	}

	var posted map[string]any
	mux.HandleFunc("/ss3/subscriptions/200/settings/normal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		}
		json.NewEncoder(w).Encode(settingsPayload)
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[200].(*SystemV3)
	ctx := context.Background()

	require.NoError(t, system.UpdateSettings(ctx, true))
	assert.Equal(t, 240, system.AlarmDuration())
	assert.Equal(t, 3, system.AlarmVolume())
	assert.Equal(t, 2, system.ChimeVolume())
	assert.Equal(t, 30, system.EntryDelayAway())
	assert.Equal(t, 60, system.ExitDelayAway())
	assert.True(t, system.Light())
	assert.Equal(t, "home-wifi", system.WiFiSSID())
	assert.Equal(t, -49, system.WiFiStrength())
	assert.Equal(t, 100, system.BatteryBackupPowerLevel())
	assert.False(t, system.RFJamming())

	t.Run("out of range values rejected", func(t *testing.T) {
		bad := 20
		err := system.SetSettings(ctx, &SettingsUpdate{AlarmDuration: &bad})
		assert.ErrorIs(t, err, ErrSettingOutOfRange)

		volume := 4
		err = system.SetSettings(ctx, &SettingsUpdate{AlarmVolume: &volume})
		assert.ErrorIs(t, err, ErrSettingOutOfRange)

		delay := 44
		err = system.SetSettings(ctx, &SettingsUpdate{ExitDelayAway: &delay})
		assert.ErrorIs(t, err, ErrSettingOutOfRange)
	})

	t.Run("only set fields are posted", func(t *testing.T) {
		duration := 120
		light := false
		require.NoError(t, system.SetSettings(ctx, &SettingsUpdate{
			AlarmDuration: &duration,
			Light:         &light,
		}))

		normal, ok := GetMap(posted, "normal")
		require.True(t, ok)
		assert.Equal(t, float64(120), normal["alarmDuration"])
		assert.Equal(t, false, normal["light"])
		assert.NotContains(t, normal, "entryDelayAway")
	})
}

func TestSystemV2PINs(t *testing.T) {
	c, mux := newSystemsClient(t)

	var posted map[string]any
	mux.HandleFunc("/subscriptions/100/pins", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Write([]byte(`{}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pins": map[string]any{
				"pin1":   map[string]any{"value": "1234"},
				"duress": map[string]any{"value": "9998"},
				"pin2":   map[string]any{"name": "Guest", "value": "5678"},
				"pin3":   map[string]any{"name": "", "value": ""},
			},
		})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[100]
	ctx := context.Background()

	pins, err := system.PINs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		PINLabelMaster: "1234",
		PINLabelDuress: "9998",
		"Guest":        "5678",
	}, pins)

	require.NoError(t, system.SetPINs(ctx, pins))

	sent, ok := GetMap(posted, "pins")
	require.True(t, ok)
	master, _ := GetString(sent, "pin1", "value")
	assert.Equal(t, "1234", master)
	duress, _ := GetString(sent, "duress", "value")
	assert.Equal(t, "9998", duress)
	assert.Len(t, sent, 2+maxUserPINs, "every user slot is sent, empty ones cleared")
}

func TestSystemV3PINs(t *testing.T) {
	c, mux := newSystemsClient(t)

	var posted map[string]any
	mux.HandleFunc("/ss3/subscriptions/200/settings/pins", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Write([]byte(`{}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"settings": map[string]any{
				"pins": map[string]any{
					"master": map[string]any{"pin": "1234"},
					"duress": map[string]any{"pin": "9998"},
					"users": []any{
						map[string]any{"name": "Guest", "pin": "5678"},
						map[string]any{"name": "", "pin": ""},
					},
				},
			},
		})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[200]
	ctx := context.Background()

	pins, err := system.PINs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		PINLabelMaster: "1234",
		PINLabelDuress: "9998",
		"Guest":        "5678",
	}, pins)

	require.NoError(t, system.SetPINs(ctx, pins))

	users, ok := GetMap(posted, "users")
	require.True(t, ok)
	assert.Len(t, users, maxUserPINs)
	master, _ := GetString(posted, "pins", PINLabelMaster, "pin")
	assert.Equal(t, "1234", master)
}

func TestSetAndRemoveSinglePIN(t *testing.T) {
	c, mux := newSystemsClient(t)

	var posted map[string]any
	mux.HandleFunc("/ss3/subscriptions/200/settings/pins", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Write([]byte(`{}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"settings": map[string]any{
				"pins": map[string]any{
					"master": map[string]any{"pin": "1234"},
					"duress": map[string]any{"pin": "9998"},
					"users": []any{
						map[string]any{"name": "Guest", "pin": "5678"},
					},
				},
			},
		})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[200]
	ctx := context.Background()

	t.Run("set new pin", func(t *testing.T) {
		require.NoError(t, system.SetPIN(ctx, "Dog Walker", "2468"))

		users, ok := GetMap(posted, "users")
		require.True(t, ok)
		names := make([]string, 0, len(users))
		for _, raw := range users {
			entry := raw.(map[string]any)
			if name, _ := GetString(entry, "name"); name != "" {
				names = append(names, name)
			}
		}
		assert.ElementsMatch(t, []string{"Guest", "Dog Walker"}, names)
	})

	t.Run("duplicate pin value refused", func(t *testing.T) {
		err := system.SetPIN(ctx, "Dog Walker", "5678")
		assert.ErrorContains(t, err, "already in use")
	})

	t.Run("remove user pin", func(t *testing.T) {
		require.NoError(t, system.RemovePIN(ctx, "Guest"))

		users, ok := GetMap(posted, "users")
		require.True(t, ok)
		for _, raw := range users {
			entry := raw.(map[string]any)
			name, _ := GetString(entry, "name")
			assert.NotEqual(t, "Guest", name)
		}
	})

	t.Run("reserved pins cannot be removed", func(t *testing.T) {
		assert.Error(t, system.RemovePIN(ctx, PINLabelMaster))
		assert.Error(t, system.RemovePIN(ctx, PINLabelDuress))
	})

	t.Run("unknown label", func(t *testing.T) {
		assert.ErrorContains(t, system.RemovePIN(ctx, "Nobody"), "no PIN")
	})
}

func TestValidatePINs(t *testing.T) {
	base := map[string]string{PINLabelMaster: "1234", PINLabelDuress: "9998"}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validatePINs(base))
	})

	t.Run("missing master", func(t *testing.T) {
		assert.Error(t, validatePINs(map[string]string{PINLabelDuress: "9998"}))
	})

	t.Run("non numeric pin", func(t *testing.T) {
		pins := map[string]string{PINLabelMaster: "12a4", PINLabelDuress: "9998"}
		assert.ErrorIs(t, validatePINs(pins), ErrInvalidPIN)
	})

	t.Run("wrong length", func(t *testing.T) {
		pins := map[string]string{PINLabelMaster: "12345", PINLabelDuress: "9998"}
		assert.ErrorIs(t, validatePINs(pins), ErrInvalidPIN)
	})

	t.Run("too many user pins", func(t *testing.T) {
		pins := map[string]string{PINLabelMaster: "1234", PINLabelDuress: "9998"}
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			pins[name] = "1111"
		}
		assert.ErrorIs(t, validatePINs(pins), ErrMaxPINs)
	})
}

func TestSystemEvents(t *testing.T) {
	c, mux := newSystemsClient(t)

	from := time.Unix(1700000000, 0)
	mux.HandleFunc("/subscriptions/100/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1700000000", r.URL.Query().Get("fromTimestamp"))
		assert.Equal(t, "5", r.URL.Query().Get("numEvents"))
		json.NewEncoder(w).Encode(map[string]any{
			"events": []any{
				map[string]any{"eventCid": float64(3441), "info": "armed home"},
				map[string]any{"eventCid": float64(1400), "info": "disarmed"},
			},
		})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)

	events, err := systems[100].Events(context.Background(), from, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "armed home", events[0]["info"])
}

func TestSystemUpdate(t *testing.T) {
	c, mux := newSystemsClient(t)

	mux.HandleFunc("/users/12345/subscriptions/100/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"subscription": map[string]any{
				"sid":       float64(100),
				"activated": float64(1700000000),
				"location": map[string]any{
					"street1": "123 Main St",
					"system": map[string]any{
						"version":    float64(2),
						"serial":     "v2-serial",
						"alarmState": "HOME",
					},
				},
			},
		})
	})

	systems, err := c.Systems(context.Background())
	require.NoError(t, err)
	system := systems[100]
	assert.Equal(t, SystemStateOff, system.State())

	require.NoError(t, system.Update(context.Background(), true))
	assert.Equal(t, SystemStateHome, system.State())
}
