package merger

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the settings of one merge run. It is stored in the "merge"
// section of the viper configuration file.
type Config struct {
	InputDir      string   // directory searched for .graw files when Inputs is empty
	Inputs        []string // explicit list of .graw files
	Output        string   // event file to write
	PadTable      string   // CSV or .npy channel-to-pad table
	PedestalTable string   // optional CSV or .npy pedestal table
	Threshold     int      // samples below this are zeroed; negative disables
	ZeroSuppress  bool
	Builders      int // event builders; 0 means one per CPU
	QueueSize     int
	CacheSize     int // open events per builder
	IndexFrames   int // frames scanned per file by the FileIndex
	MaxEvents     int // stop after writing this many events; 0 means no limit
	Verbose       bool

	PublishAddress string // ZMQ PUB endpoint for written-event announcements; empty disables
	MetricsAddress string // HTTP address serving /metrics; empty disables
	RecordRun      bool   // record the run in the ClickHouse run database
	DatabaseAddr   string // host:port of the run database
}

// DefaultConfig returns the settings used for anything the config file leaves out.
func DefaultConfig() Config {
	return Config{
		Output:       "run.evt",
		Threshold:    -1,
		QueueSize:    20,
		CacheSize:    50,
		IndexFrames:  64,
		DatabaseAddr: "localhost:9000",
	}
}

// SetViperDefaults registers the defaults with viper so they are visible to
// viper.Get and are written out by viper.WriteConfig.
func SetViperDefaults() {
	d := DefaultConfig()
	viper.SetDefault("merge.Output", d.Output)
	viper.SetDefault("merge.Threshold", d.Threshold)
	viper.SetDefault("merge.QueueSize", d.QueueSize)
	viper.SetDefault("merge.CacheSize", d.CacheSize)
	viper.SetDefault("merge.IndexFrames", d.IndexFrames)
	viper.SetDefault("merge.DatabaseAddr", d.DatabaseAddr)
}

// LoadConfig reads the "merge" section of the viper configuration over the defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := viper.UnmarshalKey("merge", &cfg); err != nil {
		return cfg, fmt.Errorf("reading merge configuration: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot be repaired with a default.
func (c *Config) Validate() error {
	if c.InputDir == "" && len(c.Inputs) == 0 {
		return fmt.Errorf("no input: set InputDir or Inputs")
	}
	if c.PadTable == "" {
		return fmt.Errorf("no PadTable given")
	}
	if c.Threshold > 4095 {
		return fmt.Errorf("threshold %d is above the largest sample value", c.Threshold)
	}
	if c.Builders < 0 || c.QueueSize < 0 || c.CacheSize < 0 || c.MaxEvents < 0 {
		return fmt.Errorf("builders, queue size, cache size and max events must not be negative")
	}
	return nil
}

// Options turns the configuration into pipeline options. peds may be nil.
func (c *Config) Options(peds PedestalLookup) Options {
	opt := Options{
		Builders:    c.Builders,
		QueueSize:   c.QueueSize,
		CacheSize:   c.CacheSize,
		IndexFrames: c.IndexFrames,
		MaxEvents:   c.MaxEvents,
		Verbose:     c.Verbose,
		Clean: CleanOptions{
			Pedestals:    peds,
			UseThreshold: c.Threshold >= 0,
			Threshold:    int16(max(c.Threshold, 0)),
			ZeroSuppress: c.ZeroSuppress,
		},
	}
	if opt.Builders == 0 {
		opt.Builders = runtime.NumCPU()
	}
	return opt
}
