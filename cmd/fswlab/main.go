package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/rfchamber/fswlab/measurement"
	"github.com/rfchamber/fswlab/pattern"
	"github.com/rfchamber/fswlab/rohde"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "fswlab.yml"

	// EnvPrefix starts every environment variable that overrides the config.
	// Nested keys are separated by a double underscore, FSWLAB_FSW__ADDR.
	EnvPrefix = "FSWLAB_"

	k = koanf.New(".")
)

// envKey maps FSWLAB_FSW__ADDR to the configured key FSW.Addr, matching
// case insensitively so that env vars override the file instead of
// shadowing it under a different spelling
func envKey(s string) string {
	key := strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", ".")
	for _, known := range k.Keys() {
		if strings.EqualFold(known, key) {
			return known
		}
	}
	return key
}

func setupconfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading .env: %v", err)
	}
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	return c
}

func root() {
	str := `fswlab drives a Rohde & Schwarz FSW spectrum analyzer in an antenna chamber,
records one measurement file per antenna orientation, and turns directories of
them into radiation pattern figures.

Usage:
	fswlab <command> [args]

Commands:
	run
	measure [name]
	pattern [dir]
	watch [dir]
	simulate [dir]
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `fswlab is amenable to configuration via its .yml file, fswlab.yml in the working
directory.  For a primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults to fswlab.yml, conf prints the configuration in use.
Any key may be overridden by an environment variable prefixed with FSWLAB_, with
nested keys separated by a double underscore, e.g. FSWLAB_FSW__ADDR=10.0.0.5.
A .env file in the working directory is loaded first.

The analyzer is reached over FSW.Transport:
- tcp, the SCPI raw socket, port 5025 unless FSW.Addr names one
- serial, FSW.Addr is the device path and FSW.Baud the rate
- usb, USBTMC, FSW.ProductID selects the model
Set Mock: true to work without hardware.

Measurement files are named <prefix>_<azimuth>_<elevation>.txt.  pattern reads
every such file in a directory, takes the peak of each trace and renders
Pattern.Kinds (heatmap, slice, surface, fits) next to them.  watch does the same
every time files are added.

run serves the analyzer at /fsw/*, pattern renderings at /patterns/*, the route
list at /endpoints and prometheus metrics at /metrics.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("fswlab version %v\n", Version)
}

func newSpinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func banner(id rohde.Identity, addr string) {
	c := color.New(color.FgCyan, color.Bold)
	c.Printf("%s %s", id.Manufacturer, id.Model)
	fmt.Printf(" s/n %s, firmware %s at %s\n", id.Serial, id.Firmware, addr)
}

func connect(c Config) rohde.Analyzer {
	a, err := newAnalyzer(c)
	if err != nil {
		log.Fatal(err)
	}
	if err = a.Connect(); err != nil {
		log.WithField("addr", c.FSW.Addr).Fatal(err)
	}
	banner(a.Identity(), c.FSW.Addr)
	return a
}

func run() {
	c := loadconfig()
	a, err := newAnalyzer(c)
	if err != nil {
		log.Fatal(err)
	}
	// the server is still useful for patterns without the instrument, and
	// POST /fsw/connect retries
	if err = a.Connect(); err != nil {
		log.WithField("addr", c.FSW.Addr).WithError(err).Error("analyzer not connected")
	} else {
		banner(a.Identity(), c.FSW.Addr)
	}
	defer a.Close()
	mux, err := BuildMux(c, a, newRegistry())
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}

func measure(name string) {
	c := loadconfig()
	a := connect(c)
	defer a.Close()

	spin := newSpinner("sweeping")
	spin.Start()
	rec, fn, err := a.Measure(name)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	spin.StopMessage(fn)
	spin.Stop()
	peak, _ := rec.Peak()
	fmt.Printf("peak %.2f dBm, marker %.2f dBm at %g Hz\n", peak, rec.MarkerY, rec.MarkerX)
}

// dirArg returns the directory argument, or the configured data directory
func dirArg(args []string, c Config) string {
	if len(args) > 2 {
		return args[2]
	}
	return c.FSW.DataDir
}

func renderPattern(dir string) {
	c := loadconfig()
	jobs, err := c.Pattern.Jobs(dir)
	if err != nil {
		log.Fatal(err)
	}
	spin := newSpinner("rendering " + dir)
	spin.Start()
	files, err := renderDir(jobs)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	spin.StopMessage(strings.Join(files, ", "))
	spin.Stop()
}

// watch re-renders dir once measurement files stop arriving for a second
func watch(dir string) {
	const settle = time.Second
	c := loadconfig()
	jobs, err := c.Pattern.Jobs(dir)
	if err != nil {
		log.Fatal(err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()
	if err = w.Add(dir); err != nil {
		log.Fatal(err)
	}

	rerender := func() {
		files, err := renderDir(jobs)
		var nodata *pattern.NoDataError
		var shape *pattern.ShapeError
		switch {
		case errors.As(err, &nodata):
			log.WithField("dir", dir).Info("no measurements yet")
		case errors.As(err, &shape):
			// a grid being filled in is usually incomplete
			log.WithField("dir", dir).WithError(err).Info("grid incomplete")
		case err != nil:
			log.WithField("dir", dir).WithError(err).Error("rendering failed")
		default:
			log.WithField("files", files).Info("rendered")
		}
	}
	rerender()

	timer := time.NewTimer(settle)
	timer.Stop()
	log.WithField("dir", dir).Info("watching for measurements")
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != measurement.Ext || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("watching")
		case <-timer.C:
			rerender()
		}
	}
}

func simulate(dir string) {
	c := loadconfig()
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatal(err)
	}
	m, err := rohde.NewMock(dir)
	if err != nil {
		log.Fatal(err)
	}
	m.Recorder().Overwrite = true
	if err = m.Connect(); err != nil {
		log.Fatal(err)
	}
	defer m.Close()
	if err = m.Configure(c.FSW.Sweep); err != nil {
		log.Fatal(err)
	}
	spin := newSpinner("simulating")
	spin.Start()
	files, err := simulateGrid(m, c.Simulate, func(az, el float64) {
		spin.Message(fmt.Sprintf("az %g el %g", az, el))
	})
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	spin.StopMessage(fmt.Sprintf("%d files in %s", len(files), dir))
	spin.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "measure":
		name := ""
		if len(args) > 2 {
			name = args[2]
		}
		measure(name)
		return
	case "pattern":
		renderPattern(dirArg(args, loadconfig()))
		return
	case "watch":
		watch(dirArg(args, loadconfig()))
		return
	case "simulate":
		simulate(dirArg(args, loadconfig()))
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
