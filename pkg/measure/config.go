package measure

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/multifit/pkg/multifit"
)

/* Example config file ...

verbosity: 1
fitter:
  terminationType: [iteration, dChisq]
  iterationMax: 10
  dChisqThreshold: 0.001
doSmallGalaxy: true
sersicIndex: 1.0
innerSersicRadius: 0.05
outerSersicRadius: 20
minInitRadius: 0.1
maxInitRadius: 30
workers: 8

*/

var ErrConfig = errors.New("measure: bad config")

type Config struct {
	Verbosity int `yaml:"verbosity"`

	Fitter multifit.Config `yaml:"fitter"`

	DoSmallGalaxy bool    `yaml:"doSmallGalaxy"`
	SersicIndex   float64 `yaml:"sersicIndex"`

	// Radii in pixels of the first exposure. Fitted galaxy radii outside the inner/outer
	// range get flagged; sources whose moments are outside min/max aren't fitted at all.
	InnerSersicRadius float64 `yaml:"innerSersicRadius"`
	OuterSersicRadius float64 `yaml:"outerSersicRadius"`
	MinInitRadius     float64 `yaml:"minInitRadius"`
	MaxInitRadius     float64 `yaml:"maxInitRadius"`

	Workers int `yaml:"workers"`
}

func NewConfig() Config {
	fc := multifit.NewConfig()
	fc.IterationMax = 10
	return Config{
		Fitter:            fc,
		DoSmallGalaxy:     true,
		SersicIndex:       1.0,
		InnerSersicRadius: 0.05,
		OuterSersicRadius: 20,
		MinInitRadius:     0.1,
		MaxInitRadius:     30,
		Workers:           4,
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

// Finalize does sanity checks, and finalizes the fitter config too
func (c *Config) Finalize() error {
	if c.Fitter.Verbosity == 0 {
		c.Fitter.Verbosity = c.Verbosity
	}
	if err := c.Fitter.Finalize(); err != nil {
		return fmt.Errorf("fitter: %w", err)
	}

	if c.Workers <= 0 {
		c.Workers = 1
	}
	if !(c.MinInitRadius < c.MaxInitRadius) {
		return fmt.Errorf("init radius range [%g,%g]: %w", c.MinInitRadius, c.MaxInitRadius, ErrConfig)
	}
	if !(c.InnerSersicRadius < c.OuterSersicRadius) {
		return fmt.Errorf("sersic radius range [%g,%g]: %w", c.InnerSersicRadius, c.OuterSersicRadius, ErrConfig)
	}
	if c.DoSmallGalaxy && !(c.SersicIndex > 0) {
		return fmt.Errorf("sersicIndex=%g: %w", c.SersicIndex, ErrConfig)
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
