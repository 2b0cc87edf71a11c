package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thatsimonsguy/mist-cooler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfigJSON() string {
	return `{
		"pubsub": {
			"controller_bind": "tcp://*:2222",
			"proxy_upstream": "tcp://localhost:2222",
			"proxy_bind": "tcp://*:2223",
			"actuator_subscribe": "tcp://localhost:2223"
		},
		"controller": {
			"tsdb": {"endpoint": "http://localhost:8086"},
			"rules": [{"power_at_least_w": 1000, "mode_index": 1}],
			"mode_table": [{"enable": false}, {"enable": true, "on_sec": 60, "off_sec": 120}]
		},
		"actuator": {
			"db_path": "/tmp/mist-cooler.db",
			"gpio": {"valve_pin": 17, "echo_pin": 27}
		}
	}`
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadArgs_Valid(t *testing.T) {
	path := writeTempConfig(t, validConfigJSON())

	cfg, err := LoadArgs([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, "cooler", cfg.PubSub.Topic)
	assert.Equal(t, 200, cfg.PubSub.ReplayDeadlineMS)
	assert.Equal(t, 17, cfg.Actuator.GPIO.ValvePin)
	assert.Equal(t, ":8080", cfg.WebUI.ListenAddr)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Dummy)
	assert.Equal(t, 96.0, cfg.Controller.Outdoor.HumiMaxPct)
	assert.Equal(t, 300.0, cfg.Controller.Outdoor.LuxThreshold)
}

func TestLoadArgs_DebugAndDummyFlags(t *testing.T) {
	path := writeTempConfig(t, validConfigJSON())

	cfg, err := LoadArgs([]string{"-c", path, "-D", "-d", "-p", "9999"})
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Dummy)
	assert.Equal(t, 9999, cfg.PortOverride)
}

func TestLoadArgs_MissingConfigFlag(t *testing.T) {
	_, err := LoadArgs([]string{})
	require.Error(t, err)
}

func TestLoadArgs_MissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `{"actuator": {"db_path": "/tmp/x.db"}}`)

	_, err := LoadArgs([]string{"-c", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub.controller_bind")
}

func TestValidate_EchoPinConflictsWithValvePin(t *testing.T) {
	echo := 17
	cfg := Config{
		PubSub: PubSub{
			ControllerBind:    "tcp://*:2222",
			ProxyUpstream:     "tcp://localhost:2222",
			ProxyBind:         "tcp://*:2223",
			ActuatorSubscribe: "tcp://localhost:2223",
		},
		Controller: Controller{
			TSDB:      TSDB{Endpoint: "http://localhost:8086"},
			Rules:     []Rule{{PowerAtLeastW: 1000, ModeIndex: 0}},
			ModeTable: []model.Duty{{}},
		},
		Actuator: Actuator{
			DBPath: "/tmp/x.db",
			GPIO:   GPIO{ValvePin: 17, EchoPin: &echo},
		},
	}

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "echo_pin")
}

func TestValidate_RuleModeIndexOutOfRange(t *testing.T) {
	cfg := Config{
		PubSub: PubSub{
			ControllerBind:    "tcp://*:2222",
			ProxyUpstream:     "tcp://localhost:2222",
			ProxyBind:         "tcp://*:2223",
			ActuatorSubscribe: "tcp://localhost:2223",
		},
		Controller: Controller{
			TSDB:      TSDB{Endpoint: "http://localhost:8086"},
			Rules:     []Rule{{PowerAtLeastW: 1000, ModeIndex: 5}},
			ModeTable: []model.Duty{{}},
		},
		Actuator: Actuator{DBPath: "/tmp/x.db"},
	}

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode_table")
}
