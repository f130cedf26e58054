package multifit

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

/* Example config file ...

verbosity: 1
terminationType: [iteration, dChisq]
iterationMax: 5
dChisqThreshold: 0.001
nMinPix: 0

*/

const (
	TerminateOnIteration = "iteration"
	TerminateOnDChisq    = "dChisq"

	// Without an iteration criterion, we still stop eventually
	hardIterationCap = 1000
)

type Config struct {
	Verbosity int `yaml:"verbosity"`

	TerminationType []string `yaml:"terminationType"`
	IterationMax    int      `yaml:"iterationMax"`
	DChisqThreshold float64  `yaml:"dChisqThreshold"`
	NMinPix         int      `yaml:"nMinPix"`

	// Knobs for the nonlinear step
	LambdaInit    float64 `yaml:"lambdaInit"`    // Levenberg-Marquardt damping, relative to the diagonal
	MaxStepTrials int     `yaml:"maxStepTrials"` // how many times to raise lambda before giving up on a step
	ConditionMax  float64 `yaml:"conditionMax"`  // normal matrices worse than this are singular

	// Values we derive
	useIteration bool
	useDChisq    bool
}

func NewConfig() Config {
	return Config{
		TerminationType: []string{TerminateOnIteration, TerminateOnDChisq},
		IterationMax:    5,
		DChisqThreshold: 0.001,
		NMinPix:         0,
		LambdaInit:      1e-4,
		MaxStepTrials:   8,
		ConditionMax:    1e14,
	}
}

func LoadConfig(filename string) (Config, error) {
	c := NewConfig()

	if contents, err := os.ReadFile(filename); err != nil {
		return c, fmt.Errorf("read '%s': %w", filename, err)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %w", filename, err)
	}

	return c, c.Finalize()
}

// Finalize does sanity checks and other post-processing
func (c *Config) Finalize() error {
	if len(c.TerminationType) == 0 {
		return ErrNoTermination
	}

	c.useIteration, c.useDChisq = false, false
	for _, tt := range c.TerminationType {
		switch tt {
		case TerminateOnIteration:
			c.useIteration = true
		case TerminateOnDChisq:
			c.useDChisq = true
		default:
			return fmt.Errorf("terminationType '%s': %w", tt, ErrUnknownTermination)
		}
	}

	if c.useIteration && c.IterationMax <= 0 {
		return fmt.Errorf("iterationMax=%d: %w", c.IterationMax, ErrBadIterationMax)
	}
	if c.useDChisq && !(c.DChisqThreshold > 0) {
		return fmt.Errorf("dChisqThreshold=%g: %w", c.DChisqThreshold, ErrBadThreshold)
	}
	if c.NMinPix < 0 {
		c.NMinPix = 0
	}
	if c.LambdaInit <= 0 {
		c.LambdaInit = 1e-4
	}
	if c.MaxStepTrials <= 0 {
		c.MaxStepTrials = 8
	}
	if c.ConditionMax <= 0 {
		c.ConditionMax = 1e14
	}

	return nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}
