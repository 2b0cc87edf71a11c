// Package config loads the typed, validated configuration record shared by
// all three role binaries (controller, actuator, webui). Absence of a
// required field is a fatal ConfigInvalid (exit code 1), never a silent
// default, per the design notes in spec.md §9.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// PubSub describes the ZeroMQ endpoints and pacing for the control-message
// pub/sub pipeline (spec §6).
type PubSub struct {
	Topic             string `json:"topic"`
	ControllerBind    string `json:"controller_bind"`
	ProxyUpstream     string `json:"proxy_upstream"`
	ProxyBind         string `json:"proxy_bind"`
	ActuatorSubscribe string `json:"actuator_subscribe"`
	ReplayDeadlineMS  int    `json:"replay_deadline_ms"`
	PubIntervalSec    int    `json:"pub_interval_sec"`
	LivenessMultiple  int    `json:"liveness_multiple"`
}

// TSDB describes the read-only time-series database boundary (spec §6).
type TSDB struct {
	Endpoint    string `json:"endpoint"`
	Measurement string `json:"measurement"`
	HostLabel   string `json:"host_label"`
	TimeoutSec  int    `json:"timeout_sec"`
	MaxAttempts int    `json:"max_attempts"`
}

// Rule is one entry of the mode decider's ordered staged classifier
// (spec §4.b): "an ordered list of rules (predicate(window) → mode_index)".
// Matches is that predicate; the first rule whose predicate holds wins.
type Rule struct {
	PowerAtLeastW float64 `json:"power_at_least_w"`
	ModeIndex     int     `json:"mode_index"`
}

// Matches reports whether the window's current power draw meets this
// rule's threshold, grounded on original_source's get_cooler_state power
// comparisons against power_work/power_normal/power_full.
func (r Rule) Matches(w model.SensorWindow) bool {
	return w.Power.Value >= r.PowerAtLeastW
}

// OutdoorThresholds configures the weather-driven adjustment the mode
// decider adds to (or subtracts from) the base power-staged mode, ported
// from original_source/src/unit_cooler/controller/sensor.py's
// get_outdoor_status. Defaults match that source's DecisionThresholdsConfig
// (config.py:152-199) for behavioral compatibility.
type OutdoorThresholds struct {
	RainMaxMMH         float64 `json:"rain_max_mm_h"`
	HumiMaxPct         float64 `json:"humi_max_pct"`
	TempHighH          float64 `json:"temp_high_h"`
	TempHighL          float64 `json:"temp_high_l"`
	TempMid            float64 `json:"temp_mid"`
	SolarRadDaytimeWM2 float64 `json:"solar_rad_daytime_w_m2"`
	SolarRadHighWM2    float64 `json:"solar_rad_high_w_m2"`
	SolarRadLowWM2     float64 `json:"solar_rad_low_w_m2"`
	LuxThreshold       float64 `json:"lux_threshold"`
}

// Controller configures the Sensor Query + Mode Decider + Publisher chain.
type Controller struct {
	TSDB              TSDB              `json:"tsdb"`
	LookbackSec       int               `json:"lookback_sec"`
	StaleThresholdSec int               `json:"stale_threshold_sec"`
	StaleKeepTicks    int               `json:"stale_keep_ticks"`
	Rules             []Rule            `json:"rules"`
	Outdoor           OutdoorThresholds `json:"outdoor"`
	ModeTable         []model.Duty      `json:"mode_table"`
	UpDebounceTicks   int               `json:"up_debounce_ticks"`
	DownDebounceTicks int               `json:"down_debounce_ticks"`
}

// GPIO configures the valve relay and its optional echo (sense) line.
type GPIO struct {
	ValvePin        int  `json:"valve_pin"`
	ValveActiveHigh bool `json:"valve_active_high"`
	EchoPin         *int `json:"echo_pin"`
	FlowSensorPin   int  `json:"flow_sensor_pin"`
}

// FlowSampler configures the flow-rate sampling cadence and smoothing
// window (spec §4.h).
type FlowSampler struct {
	SampleHz      float64 `json:"sample_hz"`
	WindowSec     int     `json:"window_sec"`
	PulsesPerLiter float64 `json:"pulses_per_liter"`
}

// FaultDetector configures the hysteretic fault state machine (spec §4.h).
type FaultDetector struct {
	GraceOpenSec      int     `json:"grace_open_sec"`
	GraceCloseSec     int     `json:"grace_close_sec"`
	MinFlowLPM        float64 `json:"min_flow_lpm"`
	LeakThresholdLPM  float64 `json:"leak_threshold_lpm"`
	NoiseRatio        float64 `json:"noise_ratio"`
	UnstableWindowSec int     `json:"unstable_window_sec"`
	RecoverHoldSec    int     `json:"recover_hold_sec"`
	AutoRecoverSec    int     `json:"auto_recover_sec"`
}

// EventLog configures the in-process ring + sqlite write queue (spec §4.i).
type EventLog struct {
	RingSize      int `json:"ring_size"`
	SSEQueueMax   int `json:"sse_queue_max"`
	WriteQueueMax int `json:"write_queue_max"`
}

// Metrics configures the embedded SQL metrics store (spec §4.j).
type Metrics struct {
	RetentionDays       int `json:"retention_days"`
	VacuumIntervalHours int `json:"vacuum_interval_hours"`
}

// Actuator configures the Subscriber + Duty Scheduler + Valve Driver +
// Flow Sampler + Fault Detector + Event Log + Metrics Store chain.
type Actuator struct {
	GPIO          GPIO          `json:"gpio"`
	FlowSampler   FlowSampler   `json:"flow_sampler"`
	FaultDetector FaultDetector `json:"fault_detector"`
	EventLog      EventLog      `json:"event_log"`
	Metrics       Metrics       `json:"metrics"`
	DBPath        string        `json:"db_path"`
}

// WebUI configures the REST/SSE surface exposed to the browser UI.
type WebUI struct {
	ListenAddr        string  `json:"listen_addr"`
	SSEIdleTimeoutSec int     `json:"sse_idle_timeout_sec"`
	HistogramDays     int     `json:"histogram_days"`
	CostPerLiterUSD   float64 `json:"cost_per_liter_usd"`
}

// Notifications configures the rate-limited Slack alert transport.
type Notifications struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	RateLimitSec    int    `json:"rate_limit_sec"`
}

// Datadog configures the dogstatsd metrics transport.
type Datadog struct {
	AgentAddr string   `json:"agent_addr"`
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
	Enabled   bool     `json:"enabled"`
}

// Config is the fully-typed, validated configuration record for a role
// process. CLI-only fields (ConfigFile, Debug, Dummy, PortOverride,
// LogLevel) are populated by Load from flags, not from the JSON file.
type Config struct {
	ConfigFile   string `json:"-"`
	Debug        bool   `json:"-"`
	Dummy        bool   `json:"-"`
	PortOverride int    `json:"-"`
	LogLevel     zerolog.Level `json:"-"`
	LogFile      string `json:"log_file"`

	PubSub        PubSub        `json:"pubsub"`
	Controller    Controller    `json:"controller"`
	Actuator      Actuator      `json:"actuator"`
	WebUI         WebUI         `json:"webui"`
	Notifications Notifications `json:"notifications"`
	Datadog       Datadog       `json:"datadog"`
}

// Load parses CLI flags per spec §6 (-c, -D, -d, -p) and decodes the named
// config file into a Config, applying defaults and then validating.
// Load exits the process with code 1 on any ConfigInvalid error, matching
// the teacher's fail-fast startup behavior.
func Load() *Config {
	cfg, err := LoadArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	return cfg
}

// LoadArgs is the testable core of Load: it never calls os.Exit.
func LoadArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("mist-cooler", flag.ContinueOnError)
	configFile := fs.String("c", "", "path to config file (required)")
	debug := fs.Bool("D", false, "enable debug logging")
	dummy := fs.Bool("d", false, "dummy/no-hardware mode")
	port := fs.Int("p", 0, "override listen/bind port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configFile == "" {
		return nil, fmt.Errorf("-c <config> is required")
	}

	data, err := os.ReadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ConfigFile = *configFile
	cfg.Debug = *debug
	cfg.Dummy = *dummy || os.Getenv("DUMMY_MODE") == "true"
	cfg.PortOverride = *port
	if cfg.Debug {
		cfg.LogLevel = zerolog.DebugLevel
	} else {
		cfg.LogLevel = zerolog.InfoLevel
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.PubSub.Topic == "" {
		cfg.PubSub.Topic = "cooler"
	}
	if cfg.PubSub.ReplayDeadlineMS == 0 {
		cfg.PubSub.ReplayDeadlineMS = 200
	}
	if cfg.PubSub.PubIntervalSec == 0 {
		cfg.PubSub.PubIntervalSec = 10
	}
	if cfg.PubSub.LivenessMultiple == 0 {
		cfg.PubSub.LivenessMultiple = 3
	}
	if cfg.Controller.LookbackSec == 0 {
		cfg.Controller.LookbackSec = 300
	}
	if cfg.Controller.StaleThresholdSec == 0 {
		cfg.Controller.StaleThresholdSec = 300
	}
	if cfg.Controller.TSDB.TimeoutSec == 0 {
		cfg.Controller.TSDB.TimeoutSec = 10
	}
	if cfg.Controller.TSDB.MaxAttempts == 0 {
		cfg.Controller.TSDB.MaxAttempts = 5
	}
	od := &cfg.Controller.Outdoor
	if od.RainMaxMMH == 0 {
		od.RainMaxMMH = 0.01
	}
	if od.HumiMaxPct == 0 {
		od.HumiMaxPct = 96
	}
	if od.TempHighH == 0 {
		od.TempHighH = 35
	}
	if od.TempHighL == 0 {
		od.TempHighL = 32
	}
	if od.TempMid == 0 {
		od.TempMid = 29
	}
	if od.SolarRadDaytimeWM2 == 0 {
		od.SolarRadDaytimeWM2 = 50
	}
	if od.SolarRadHighWM2 == 0 {
		od.SolarRadHighWM2 = 700
	}
	if od.SolarRadLowWM2 == 0 {
		od.SolarRadLowWM2 = 200
	}
	if od.LuxThreshold == 0 {
		od.LuxThreshold = 300
	}
	if cfg.Actuator.FlowSampler.SampleHz == 0 {
		cfg.Actuator.FlowSampler.SampleHz = 10
	}
	if cfg.Actuator.FlowSampler.WindowSec == 0 {
		cfg.Actuator.FlowSampler.WindowSec = 3
	}
	if cfg.Actuator.FlowSampler.PulsesPerLiter == 0 {
		cfg.Actuator.FlowSampler.PulsesPerLiter = 450
	}
	fd := &cfg.Actuator.FaultDetector
	if fd.GraceOpenSec == 0 {
		fd.GraceOpenSec = 5
	}
	if fd.GraceCloseSec == 0 {
		fd.GraceCloseSec = 3
	}
	if fd.RecoverHoldSec == 0 {
		fd.RecoverHoldSec = 15
	}
	if cfg.Actuator.EventLog.RingSize == 0 {
		cfg.Actuator.EventLog.RingSize = 1000
	}
	if cfg.Actuator.EventLog.SSEQueueMax == 0 {
		cfg.Actuator.EventLog.SSEQueueMax = 64
	}
	if cfg.Actuator.EventLog.WriteQueueMax == 0 {
		cfg.Actuator.EventLog.WriteQueueMax = 1024
	}
	if cfg.Actuator.Metrics.RetentionDays == 0 {
		cfg.Actuator.Metrics.RetentionDays = 400
	}
	if cfg.Actuator.Metrics.VacuumIntervalHours == 0 {
		cfg.Actuator.Metrics.VacuumIntervalHours = 24
	}
	if cfg.WebUI.ListenAddr == "" {
		cfg.WebUI.ListenAddr = ":8080"
	}
	if cfg.WebUI.SSEIdleTimeoutSec == 0 {
		cfg.WebUI.SSEIdleTimeoutSec = 300
	}
	if cfg.WebUI.HistogramDays == 0 {
		cfg.WebUI.HistogramDays = 10
	}
	if cfg.WebUI.CostPerLiterUSD == 0 {
		cfg.WebUI.CostPerLiterUSD = 0.001
	}
	if cfg.Notifications.RateLimitSec == 0 {
		cfg.Notifications.RateLimitSec = 300
	}
}

// OverridePort replaces the trailing :<port> of a tcp:// bind/connect
// address with port, the way the -p flag overrides whatever the config file
// says. A zero port is a no-op; addr is returned unchanged.
func OverridePort(addr string, port int) string {
	if port == 0 {
		return addr
	}
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr[:i], port)
}

// validate walks the required subsections the way the teacher's
// Config.validate walks its GPIO struct, collecting every problem before
// failing so an operator sees the whole list at once.
func (cfg *Config) validate() error {
	var missing []string

	if cfg.PubSub.ControllerBind == "" {
		missing = append(missing, "pubsub.controller_bind")
	}
	if cfg.PubSub.ProxyUpstream == "" {
		missing = append(missing, "pubsub.proxy_upstream")
	}
	if cfg.PubSub.ProxyBind == "" {
		missing = append(missing, "pubsub.proxy_bind")
	}
	if cfg.PubSub.ActuatorSubscribe == "" {
		missing = append(missing, "pubsub.actuator_subscribe")
	}
	if cfg.Controller.TSDB.Endpoint == "" {
		missing = append(missing, "controller.tsdb.endpoint")
	}
	if len(cfg.Controller.Rules) == 0 {
		missing = append(missing, "controller.rules")
	}
	if len(cfg.Controller.ModeTable) == 0 {
		missing = append(missing, "controller.mode_table")
	}
	if cfg.Actuator.DBPath == "" {
		missing = append(missing, "actuator.db_path")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config fields: %s", strings.Join(missing, ", "))
	}

	if cfg.Actuator.GPIO.EchoPin != nil && *cfg.Actuator.GPIO.EchoPin == cfg.Actuator.GPIO.ValvePin {
		return fmt.Errorf("gpio.echo_pin and gpio.valve_pin both use pin %d", cfg.Actuator.GPIO.ValvePin)
	}

	for i, r := range cfg.Controller.Rules {
		if r.ModeIndex < 0 || r.ModeIndex >= len(cfg.Controller.ModeTable) {
			return fmt.Errorf("controller.rules[%d].mode_index %d has no entry in controller.mode_table", i, r.ModeIndex)
		}
	}

	return nil
}
