package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zurustar/midiscope/pkg/cli"
	"github.com/zurustar/midiscope/pkg/fileutil"
	"github.com/zurustar/midiscope/pkg/logger"
	"github.com/zurustar/midiscope/pkg/player"
	"github.com/zurustar/midiscope/pkg/sink"
	"github.com/zurustar/midiscope/pkg/smf"
)

// Application wires the pieces together: argument parsing, file loading,
// sink selection and the playback loop.
type Application struct {
	config *cli.Config
	log    *slog.Logger
	file   *smf.File
	snk    sink.Sink
	muted  bool
}

// New creates an Application.
func New() *Application {
	return &Application{}
}

// Run executes the application with the given arguments (program name
// excluded).
func (app *Application) Run(args []string) error {
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if app.config.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if app.config.ListPorts {
		return app.listPorts()
	}

	app.log.Info("Application started", "file", app.config.MIDIPath)

	if err := app.loadFile(); err != nil {
		return fmt.Errorf("failed to load MIDI file: %w", err)
	}
	app.logFileStats()

	app.chooseSink()
	if err := app.snk.Initialize(); err != nil {
		app.log.Warn("Synthesizer unavailable, running muted", "error", err)
		app.snk = sink.NewNull()
		app.muted = true
		if err := app.snk.Initialize(); err != nil {
			return err
		}
	}
	defer app.snk.Terminate()

	if err := app.play(); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	app.log.Info("Application terminated normally")
	return nil
}

func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.config = config
	return nil
}

func (app *Application) initLogger() error {
	if err := logger.InitLogger(app.config.LogLevel); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

func (app *Application) listPorts() error {
	ports := sink.ListPorts()
	if len(ports) == 0 {
		fmt.Println("no MIDI output ports available")
		return nil
	}
	for _, name := range ports {
		fmt.Println(name)
	}
	return nil
}

// loadFile reads and parses the MIDI file. A header-level failure aborts;
// per-track truncation has already been degraded to warnings by the parser.
func (app *Application) loadFile() error {
	path, err := fileutil.ResolvePath(app.config.MIDIPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	file, err := smf.Parse(data)
	if err != nil {
		var formatErr *smf.FormatError
		if errors.As(err, &formatErr) {
			app.log.Error("Not a playable MIDI file", "offset", formatErr.Offset, "detail", formatErr.Detail)
		}
		return err
	}
	app.file = file
	return nil
}

// logFileStats reports what the parser extracted before playback starts.
func (app *Application) logFileStats() {
	f := app.file
	app.log.Info("MIDI file loaded",
		"format", f.Format,
		"ppqn", f.PPQN,
		"events", len(f.Events),
		"tempo_changes", len(f.TempoMap.Entries),
		"max_tick", f.MaxTick,
		"duration", f.Duration().Round(time.Millisecond))
	for i, name := range f.TrackNames {
		if name != "" {
			app.log.Debug("Track", "index", i, "name", name)
		}
	}
	if len(f.Truncated) > 0 {
		app.log.Warn("Some tracks were truncated", "tracks", f.Truncated)
	}
	for _, err := range f.TempoMap.Validate() {
		app.log.Warn("Tempo map issue", "error", err)
	}
}

// chooseSink picks the synthesizer backend: explicit mute, a hardware port,
// a SoundFont synthesizer, or muted fallback when nothing is available.
func (app *Application) chooseSink() {
	if app.config.Mute {
		app.log.Info("Muted by request")
		app.snk = sink.NewNull()
		app.muted = true
		return
	}

	if app.config.PortName != "" {
		app.log.Info("Using MIDI output port", "port", app.config.PortName)
		app.snk = sink.NewBuffered(sink.NewPort(app.config.PortName), 256)
		return
	}

	sf2Path := findSoundFont(app.config.SF2Path, app.config.MIDIPath)
	if sf2Path != "" {
		melty, err := sink.NewMelty(sf2Path)
		if err == nil {
			app.log.Info("Using software synthesizer", "soundfont", sf2Path)
			app.snk = melty
			return
		}
		app.log.Warn("Failed to load SoundFont", "path", sf2Path, "error", err)
	}

	app.log.Warn("No synthesizer available, running muted")
	app.snk = sink.NewNull()
	app.muted = true
}

// play runs the clock until the timeline ends, the timeout fires, or the
// process is interrupted.
func (app *Application) play() error {
	clk := player.New(app.file, app.snk)

	now := time.Now()
	if app.config.StartTick > 0 {
		app.log.Info("Seeking", "tick", app.config.StartTick)
		clk.Seek(app.config.StartTick, now)
	}
	clk.Toggle(now)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	err := clk.Run(ctx)

	snap := clk.Snapshot()
	app.log.Info("Playback finished",
		"tick", uint64(snap.Tick),
		"played_notes", snap.PlayedNotes,
		"muted", app.muted)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
