package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/beamalign/internal/analog"
	"github.com/banshee-data/beamalign/internal/config"
	"github.com/banshee-data/beamalign/internal/db"
	"github.com/banshee-data/beamalign/internal/fsutil"
	"github.com/banshee-data/beamalign/internal/monitor"
	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/recorder"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/serialport"
	"github.com/banshee-data/beamalign/internal/sim"
	"github.com/banshee-data/beamalign/internal/timeutil"
	"github.com/banshee-data/beamalign/internal/units"
	"github.com/banshee-data/beamalign/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config (default "+config.DefaultConfigPath+" if present)")
	port        = flag.String("port", "/dev/ttyUSB0", "Mount serial port (ignored in dev mode)")
	adcPort     = flag.String("adc-port", "/dev/ttyACM0", "Analog bridge serial port (ignored in dev mode)")
	rangeM      = flag.Float64("range", 0, "Link distance in metres (overrides config)")
	fieldDeg    = flag.Float64("field", 0, "Field of regard in degrees (overrides config)")
	threshold   = flag.Int("threshold", -1, "Detection threshold (overrides config)")
	devMode     = flag.Bool("dev", false, "Run against the built-in mount simulator")
	verbose     = flag.Bool("verbose", false, "Log every mount exchange")
	dbPath      = flag.String("db", "", "SQLite scan store (disabled when empty)")
	outDir      = flag.String("out", "scans", "Directory for scan CSV files")
	plotMap     = flag.Bool("plot", false, "Write a PNG scan map next to the CSV")
	listen      = flag.String("listen", "", "Debug HTTP listen address, e.g. :8080 (disabled when empty)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
	turnAxis    = flag.Int("turn-axis", 0, "Turn this axis by -turn-deg instead of scanning")
	turnDeg     = flag.Float64("turn-deg", 0, "Relative turn in degrees for -turn-axis")
	gotoAxis    = flag.Int("goto-axis", 0, "Move this axis to the -goto position instead of scanning")
	gotoPos     = flag.String("goto", "", "Target position for -goto-axis, 6 hex digits")
	angleUnits  = flag.String("units", units.Degrees, "Units for reported angles: "+strings.Join(units.ValidUnits, ", "))
)

// options are the resolved command-line choices that run acts on.
type options struct {
	Dev        bool
	Port       string
	ADCPort    string
	DBPath     string
	OutDir     string
	Plot       bool
	Listen     string
	TurnAxis   int
	TurnDeg    float64
	GotoAxis   int
	GotoPos    string
	AngleUnits string
}

func optionsFromFlags() options {
	return options{
		Dev:        *devMode,
		Port:       *port,
		ADCPort:    *adcPort,
		DBPath:     *dbPath,
		OutDir:     *outDir,
		Plot:       *plotMap,
		Listen:     *listen,
		TurnAxis:   *turnAxis,
		TurnDeg:    *turnDeg,
		GotoAxis:   *gotoAxis,
		GotoPos:    *gotoPos,
		AngleUnits: *angleUnits,
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(path string) (*config.AlignConfig, error) {
	cfg := config.EmptyAlignConfig()
	switch {
	case path != "":
		c, err := config.LoadAlignConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			c, err := config.LoadAlignConfig(config.DefaultConfigPath)
			if err != nil {
				return nil, err
			}
			cfg = c
		}
	}
	applyOverrides(cfg, *rangeM, *fieldDeg, *threshold)
	return cfg, cfg.Validate()
}

// applyOverrides copies set flag values over the config. Zero range and
// field and a negative threshold mean unset.
func applyOverrides(cfg *config.AlignConfig, rangeM, fieldDeg float64, threshold int) {
	if rangeM != 0 {
		cfg.Range = &rangeM
	}
	if fieldDeg != 0 {
		cfg.Field = &fieldDeg
	}
	if threshold >= 0 {
		cfg.Threshold = &threshold
	}
}

// rig is the hardware (or simulated hardware) a run talks to.
type rig struct {
	sender  *monitor.SharedSender
	ctrl    *mount.Controller
	reader  analog.Reader
	closers []func() error
}

func (r *rig) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func openRig(cfg *config.AlignConfig, opts options, clock timeutil.Clock) (*rig, error) {
	r := &rig{}
	var transport *serialport.Link

	if opts.Dev {
		m := sim.NewMount(0x100000, 0x200000, uint64(time.Now().UnixNano()))
		res := float64(devResolutionSteps(cfg))
		offset := int64(4 * res)
		center := [2]mount.Position{
			mount.Position(int64(0x100000) + offset),
			mount.Position(int64(0x200000) - offset),
		}
		r.reader = sim.NewField(m, center, 30000, 1.5*res, 200, 1)
		transport = serialport.NewLink(m.Port())
		log.Printf("dev mode: simulated mount, beam centre at %s,%s", center[0], center[1])
	} else {
		mp, err := serialport.Open(opts.Port, cfg.SerialOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open mount port: %w", err)
		}
		transport = serialport.NewLink(mp)

		ap, err := serialport.Open(opts.ADCPort, cfg.ADCSerialOptions())
		if err != nil {
			_ = transport.Close()
			return nil, fmt.Errorf("failed to open analog port: %w", err)
		}
		sr := analog.NewSerialReader(ap, cfg.GetADCReadTimeout())
		r.reader = sr
		r.closers = append(r.closers, sr.Close)
		log.Printf("mount on %s (%s), analog bridge on %s (%s)",
			opts.Port, cfg.SerialOptions(), opts.ADCPort, cfg.ADCSerialOptions())
	}
	r.closers = append(r.closers, transport.Close)

	r.sender = monitor.NewSharedSender(mount.NewChannel(transport, cfg.ChannelConfig(), clock))
	r.ctrl = mount.NewController(r.sender, cfg.ControllerConfig(), clock)
	return r, nil
}

// devResolutionSteps places the simulated beam a few scan steps from the
// start so dev runs finish quickly.
func devResolutionSteps(cfg *config.AlignConfig) int {
	s, err := scan.Plan(cfg.GetRange(), cfg.GetField(), cfg.BeamModel(), cfg.GetStepsPerRevolution())
	if err != nil {
		return 23
	}
	return s.ResolutionSteps
}

func parseAxis(n int) (mount.Axis, error) {
	switch n {
	case 1:
		return mount.Axis1, nil
	case 2:
		return mount.Axis2, nil
	}
	return 0, fmt.Errorf("%w: axis %d", mount.ErrInvalidChannel, n)
}

// reportPosition logs both axes as hex counts and angles.
func reportPosition(ctx context.Context, ctrl *mount.Controller, unit string) error {
	for _, axis := range []mount.Axis{mount.Axis1, mount.Axis2} {
		p, err := ctrl.Position(ctx, axis)
		if err != nil {
			return fmt.Errorf("failed to read axis %d: %w", axis, err)
		}
		angle, err := units.ConvertAngle(float64(p)*units.RadiansPerStep(ctrl.StepsPerRevolution()), unit, ctrl.StepsPerRevolution())
		if err != nil {
			return err
		}
		log.Printf("axis %d at %s (%.4f %s)", axis, p, angle, unit)
	}
	return nil
}

func run(ctx context.Context, cfg *config.AlignConfig, opts options, clock timeutil.Clock) error {
	if !units.IsValid(opts.AngleUnits) {
		return fmt.Errorf("invalid units %q: expected one of %s", opts.AngleUnits, strings.Join(units.ValidUnits, ", "))
	}

	r, err := openRig(cfg, opts, clock)
	if err != nil {
		return err
	}
	defer r.Close()

	switch {
	case opts.TurnAxis != 0:
		axis, err := parseAxis(opts.TurnAxis)
		if err != nil {
			return err
		}
		if err := r.ctrl.Turn(ctx, axis, opts.TurnDeg); err != nil {
			return fmt.Errorf("turn failed: %w", err)
		}
		if err := r.ctrl.WaitStopped(ctx, axis); err != nil {
			return fmt.Errorf("turn failed: %w", err)
		}
		return reportPosition(ctx, r.ctrl, opts.AngleUnits)

	case opts.GotoAxis != 0:
		axis, err := parseAxis(opts.GotoAxis)
		if err != nil {
			return err
		}
		if err := r.ctrl.MoveToHex(ctx, axis, opts.GotoPos, false); err != nil {
			return fmt.Errorf("goto failed: %w", err)
		}
		if err := r.ctrl.WaitStopped(ctx, axis); err != nil {
			return fmt.Errorf("goto failed: %w", err)
		}
		return reportPosition(ctx, r.ctrl, opts.AngleUnits)
	}

	return runScan(ctx, cfg, opts, r, clock)
}

func runScan(ctx context.Context, cfg *config.AlignConfig, opts options, r *rig, clock timeutil.Clock) error {
	fs := fsutil.OSFileSystem{}
	csv := recorder.NewCSV(fs, opts.OutDir)
	mem := recorder.NewMemory(0)
	live := monitor.NewLive(0)
	recs := []scan.Recorder{csv, mem, live}

	var plot *recorder.Plot
	if opts.Plot {
		plot = recorder.NewPlot(fs, opts.OutDir)
		recs = append(recs, plot)
	}

	var store *db.DB
	if opts.DBPath != "" {
		var err error
		store, err = db.Open(opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open scan store: %w", err)
		}
		defer store.Close()
		recs = append(recs, store.NewSessionRecorder())
	}

	var wg sync.WaitGroup
	srvCtx, stopServer := context.WithCancel(ctx)
	if opts.Listen != "" {
		mux := http.NewServeMux()
		live.AttachAdminRoutes(mux, r.sender, r.ctrl)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				stopServer()
				return fmt.Errorf("failed to attach db routes: %w", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(srvCtx, opts.Listen, mux)
		}()
	}
	defer func() {
		stopServer()
		wg.Wait()
	}()

	scanner := scan.NewScanner(r.ctrl, r.reader, recorder.Multi(recs...), cfg.ScanConfig(), clock)
	scanner.OnProgress = live.OnProgress

	res, err := scanner.Run(ctx, cfg.GetRange(), cfg.GetField())
	log.Printf("scan %s: %s after %s, best %s,%s signal %d",
		res.Session.Key(), res.Outcome, res.Elapsed.Round(time.Millisecond),
		res.Best.Axis1, res.Best.Axis2, res.Best.Signal)
	if sum := mem.Summary(); sum.Samples > 0 {
		log.Printf("summary: %s", sum)
	}
	if csv.Path() != "" {
		log.Printf("samples written to %s", csv.Path())
	}
	if plot != nil && plot.Path() != "" {
		log.Printf("scan map written to %s", plot.Path())
	}
	if err != nil {
		return err
	}

	// A cancelled context cannot be used for the final read.
	if err := reportPosition(context.WithoutCancel(ctx), r.ctrl, opts.AngleUnits); err != nil {
		return err
	}
	if opts.Listen != "" {
		log.Printf("scan finished, mount console on http://%s/debug/mount-command until interrupted", opts.Listen)
		<-ctx.Done()
	}
	return nil
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{Addr: addr, Handler: h}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("failed to start server: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			log.Fatalf("failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, optionsFromFlags(), timeutil.RealClock{}); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("interrupted")
			os.Exit(130)
		}
		log.Printf("%v", err)
		os.Exit(1)
	}
}
