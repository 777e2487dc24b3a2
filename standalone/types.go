package standalone

// Runner modes
const (
	ModeSim  = "sim"  // Engine runs in-process against a simulated driver
	ModeLink = "link" // Commands are forwarded to firmware over serial
)

// Driver types
const (
	DriverNone    = "none"
	DriverTMC2209 = "tmc2209"
)

// Limit sensor types
const (
	LimitNone    = "none"
	LimitSim     = "sim"
	LimitVL53L1X = "vl53l1x"
)

// AxisConfig describes the motor and its motion limits
type AxisConfig struct {
	Motor        string  `json:"motor" yaml:"motor" env:"STEPDRIVE_MOTOR"`             // e.g. "nema17"
	StepMode     string  `json:"step_mode" yaml:"step_mode" env:"STEPDRIVE_STEP_MODE"` // e.g. "quarter"
	GearRatio    float64 `json:"gear_ratio" yaml:"gear_ratio" env:"STEPDRIVE_GEAR_RATIO"`
	MaxSpeed     float64 `json:"max_speed" yaml:"max_speed" env:"STEPDRIVE_MAX_SPEED"`          // steps/s
	Acceleration float64 `json:"acceleration" yaml:"acceleration" env:"STEPDRIVE_ACCELERATION"` // steps/s^2
	Deceleration float64 `json:"deceleration" yaml:"deceleration" env:"STEPDRIVE_DECELERATION"` // steps/s^2
}

// HomingConfig parameterizes the calibration move
type HomingConfig struct {
	SeekSpeed float64 `json:"seek_speed" yaml:"seek_speed" env:"STEPDRIVE_HOMING_SPEED"` // steps/s
	MaxTravel int64   `json:"max_travel" yaml:"max_travel" env:"STEPDRIVE_HOMING_TRAVEL"`
	Backoff   int64   `json:"backoff" yaml:"backoff"`
}

// LinkConfig selects the serial port to the firmware
type LinkConfig struct {
	Device    string `json:"device" yaml:"device" env:"STEPDRIVE_DEVICE"`
	Baud      int    `json:"baud" yaml:"baud" env:"STEPDRIVE_BAUD"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// DriverConfig describes an optional smart driver on a UART
type DriverConfig struct {
	Type    string `json:"type" yaml:"type" env:"STEPDRIVE_DRIVER"`
	Device  string `json:"device" yaml:"device" env:"STEPDRIVE_DRIVER_DEVICE"`
	Baud    int    `json:"baud" yaml:"baud"`
	Address int    `json:"address" yaml:"address"` // 0-3, set by MS1/MS2 straps
}

// LimitConfig describes the negative limit sensor
type LimitConfig struct {
	Type        string `json:"type" yaml:"type" env:"STEPDRIVE_LIMIT"`
	Position    int64  `json:"position" yaml:"position"`         // sim: trigger at or below this step position
	I2CBus      string `json:"i2c_bus" yaml:"i2c_bus"`           // vl53l1x: e.g. "/dev/i2c-1"
	ThresholdMM int    `json:"threshold_mm" yaml:"threshold_mm"` // vl53l1x: trigger at or below this range
	SampleCount int    `json:"sample_count" yaml:"sample_count"` // consecutive active samples required
	InvertPin   bool   `json:"invert_pin" yaml:"invert_pin"`
	// CheckUs > 0 samples the sensor on a timer while homing instead of on
	// every poll; SampleUs spaces the confirming samples once it reads active
	CheckUs  int `json:"check_us" yaml:"check_us"`
	SampleUs int `json:"sample_us" yaml:"sample_us"`
}

// APIConfig enables the HTTP control surface
type APIConfig struct {
	Listen  string `json:"listen" yaml:"listen" env:"STEPDRIVE_API_LISTEN"` // e.g. ":8080"; empty disables
	Secret  string `json:"secret" yaml:"secret" env:"STEPDRIVE_API_SECRET"` // HMAC key for bearer tokens; empty disables auth
	Journal string `json:"journal" yaml:"journal" env:"STEPDRIVE_JOURNAL"`  // command journal database path
}

// MachineConfig is the complete runner configuration
type MachineConfig struct {
	Mode             string `json:"mode" yaml:"mode" env:"STEPDRIVE_MODE"`
	StatusIntervalMs int    `json:"status_interval_ms" yaml:"status_interval_ms" env:"STEPDRIVE_STATUS_INTERVAL_MS"`

	Axis   AxisConfig   `json:"axis" yaml:"axis"`
	Homing HomingConfig `json:"homing" yaml:"homing"`
	Link   LinkConfig   `json:"link" yaml:"link"`
	Driver DriverConfig `json:"driver" yaml:"driver"`
	Limit  LimitConfig  `json:"limit" yaml:"limit"`
	API    APIConfig    `json:"api" yaml:"api"`
}
