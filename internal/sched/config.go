package sched

import "strings"

// FaultPolicy decides what the engine does when a request fails for a reason
// other than bad input (kernel task creation failure, unexpected request).
type FaultPolicy string

const (
	// FaultRecover replies with an error and keeps serving requests.
	FaultRecover FaultPolicy = "recover"
	// FaultHalt stops the engine loop; Run returns the fault.
	FaultHalt FaultPolicy = "halt"
)

// Priorities are kernel priority levels; numerically lower runs first.
type Priorities struct {
	Control Priority `yaml:"control"` // engine task
	Running Priority `yaml:"running"` // current (earliest-deadline) task
	Ready   Priority `yaml:"ready"`   // every other active task
	Overdue Priority `yaml:"overdue"` // tasks that missed their deadline
}

// Config mirrors the scheduler section of config.yml.
type Config struct {
	TickMS       int         `yaml:"tick_ms"`       // 1 (by default)
	RequestQueue int         `yaml:"request_queue"` // 16 (by default)
	ReplyMin     uint32      `yaml:"reply_min"`     // 20 (by default)
	ReplyMax     uint32      `yaml:"reply_max"`     // 100 (by default)
	FaultPolicy  FaultPolicy `yaml:"fault_policy"`  // recover (by default)
	Priorities   Priorities  `yaml:"priorities"`
}

// DefaultConfig returns the values used when no config file is present.
func DefaultConfig() Config {
	return Config{
		TickMS:       1,
		RequestQueue: 16,
		ReplyMin:     20,
		ReplyMax:     100,
		FaultPolicy:  FaultRecover,
		Priorities: Priorities{
			Control: 2,
			Running: 3,
			Ready:   99,
			Overdue: 100,
		},
	}
}

// Sanitize applies the sanity clamps: anything out of range falls back to the default.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if cfg.TickMS <= 0 {
		cfg.TickMS = def.TickMS
	}
	if cfg.RequestQueue <= 0 {
		cfg.RequestQueue = def.RequestQueue
	}
	if cfg.ReplyMin == 0 || cfg.ReplyMax <= cfg.ReplyMin {
		cfg.ReplyMin, cfg.ReplyMax = def.ReplyMin, def.ReplyMax
	}
	switch FaultPolicy(strings.ToLower(strings.TrimSpace(string(cfg.FaultPolicy)))) {
	case FaultHalt:
		cfg.FaultPolicy = FaultHalt
	default:
		cfg.FaultPolicy = FaultRecover
	}

	// running > ready > overdue must hold, otherwise deadline order is lost
	p := cfg.Priorities
	if !(p.Control <= p.Running && p.Running < p.Ready && p.Ready < p.Overdue) {
		cfg.Priorities = def.Priorities
	}
	return cfg
}
