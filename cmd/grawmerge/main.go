package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/attpc/merger"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper says where to find the config file and registers the defaults.
// An explicit configFile is read as given; otherwise config.yaml is searched
// for, and created empty under $HOME/.grawmerge if it exists nowhere.
func setupViper(configFile string) error {
	merger.SetViperDefaults()
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dotGrawmerge := filepath.Join(home, ".grawmerge")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotGrawmerge, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/grawmerge"))
	viper.AddConfigPath(dotGrawmerge)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

// startLogging sends problems and updates to rotating files under logdir.
// Problems also go to the terminal.
func startLogging(logdir string) error {
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		return err
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		return err
	}
	problems := startLogger(problemname)
	problems.SetOutput(io.MultiWriter(problems.Writer(), os.Stderr))
	merger.ProblemLogger = problems
	merger.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems to %s\n", problemname)
	fmt.Printf("Logging updates  to %s\n\n", logname)
	return nil
}

func main() {
	buildDate = strings.ReplaceAll(buildDate, ".", " ") // workaround for Make problems
	merger.Build.Date = buildDate
	merger.Build.Githash = githash
	merger.Build.Gitdate = gitdate
	merger.Build.Summary = fmt.Sprintf("grawmerge version %s (git commit %s of %s)", merger.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		merger.Build.Host = host
	} else {
		merger.Build.Host = "host not detected"
	}

	configFile := flag.String("config", "", "read this config file instead of searching for config.yaml")
	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	pedestals := flag.String("pedestals", "", "calibrate pedestals from the inputs and write them to this .csv or .npy file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is grawmerge version %s\n", merger.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is %s\n", merger.Build.Summary)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := startLogging(filepath.Join("$HOME", ".grawmerge", "logs")); err != nil {
		log.Fatal(err)
	}
	merger.UpdateLogger.Printf("\n\n\n\n%s", banner)

	if err := setupViper(*configFile); err != nil {
		log.Fatal(err)
	}
	cfg, err := merger.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Verbose {
		merger.DebugLogger = merger.UpdateLogger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if *pedestals != "" {
		err = calibrate(ctx, cfg, *pedestals)
	} else {
		err = merge(ctx, cfg)
	}
	stop()
	writeMemoryProfile(memprofile)
	if errors.Is(err, context.Canceled) {
		merger.ProblemLogger.Println("Interrupted")
		os.Exit(130)
	}
	if err != nil {
		merger.ProblemLogger.Println(err)
		os.Exit(1)
	}
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
