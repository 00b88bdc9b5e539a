// Package cli parses the midiscope command line: one positional MIDI file
// plus flags for the synthesizer backend, start position, timeout and
// logging. Environment variables back every flag, with the flag winning.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings parsed from arguments and environment.
type Config struct {
	MIDIPath  string        // path of the Standard MIDI File to play
	SF2Path   string        // SoundFont for the software synthesizer
	PortName  string        // MIDI output port (substring match)
	ListPorts bool          // list output ports and exit
	StartTick uint64        // timeline position to start playback from
	Timeout   time.Duration // watchdog for unattended runs (0 is unlimited)
	LogLevel  string        // debug, info, warn, error
	Mute      bool          // parse and play silently, no synthesizer
	ShowHelp  bool          // help requested
}

// ParseArgs parses args (not including the program name) into a Config.
func ParseArgs(args []string) (*Config, error) {
	// Reorder so flags may follow the positional file argument.
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("midiscope", flag.ContinueOnError)

	config := &Config{}

	var timeoutSec int
	var startTick uint64
	fs.StringVar(&config.SF2Path, "sf2", "", "SoundFont (.sf2) for software synthesis")
	fs.StringVar(&config.PortName, "port", "", "MIDI output port name (substring match)")
	fs.BoolVar(&config.ListPorts, "list-ports", false, "list MIDI output ports and exit")
	fs.Uint64Var(&startTick, "start", 0, "tick position to start playback from")
	fs.IntVar(&timeoutSec, "timeout", 0, "stop after this many seconds")
	fs.IntVar(&timeoutSec, "t", 0, "stop after this many seconds (shorthand)")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&config.LogLevel, "l", "info", "log level (shorthand)")
	fs.BoolVar(&config.Mute, "mute", false, "suppress all synthesizer output")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (shorthand)")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}
	config.StartTick = startTick

	// Environment fallbacks; flags take precedence.
	if config.SF2Path == "" {
		config.SF2Path = os.Getenv("MIDISCOPE_SF2")
	}
	if config.PortName == "" {
		config.PortName = os.Getenv("MIDISCOPE_PORT")
	}
	if !config.Mute {
		if muteEnv := os.Getenv("MIDISCOPE_MUTE"); muteEnv != "" {
			config.Mute = muteEnv == "1" || strings.ToLower(muteEnv) == "true"
		}
	}
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	if fs.NArg() > 0 {
		config.MIDIPath = fs.Arg(0)
	}
	if config.MIDIPath == "" && !config.ShowHelp && !config.ListPorts {
		return nil, fmt.Errorf("no MIDI file specified")
	}

	return config, nil
}

// boolFlags are flags that never take a separate value argument; reorderArgs
// must not swallow the token after them.
var boolFlags = map[string]bool{
	"-h": true, "--help": true, "-help": true,
	"-mute": true, "--mute": true,
	"-list-ports": true, "--list-ports": true,
}

// reorderArgs moves flags ahead of positional arguments so the stdlib flag
// package sees them all.
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)

			// Non-boolean flags may carry their value as the next token
			// (-t 5 rather than -t=5).
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				if !boolFlags[arg] && !strings.Contains(arg, "=") {
					i++
					flags = append(flags, args[i])
				}
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// PrintHelp writes the usage text to stdout.
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `midiscope - Standard MIDI File timeline player

Usage:
  midiscope [options] <file.mid>

Arguments:
  file.mid      Standard MIDI File to parse and play (format 1 or 2)

Options:
  -sf2 <path>              SoundFont for the built-in software synthesizer
  -port <name>             send to a MIDI output port instead (substring match)
  -list-ports              list available MIDI output ports and exit
  -start <tick>            start playback from this tick position
  -t, --timeout <seconds>  stop after the given number of seconds
  -l, --log-level <level>  log level: debug, info, warn, error (default: info)
  -mute                    no sound: parse, schedule and report only
  -h, --help               show this help

Environment Variables:
  MIDISCOPE_SF2=<path>     default SoundFont path
  MIDISCOPE_PORT=<name>    default MIDI output port
  MIDISCOPE_MUTE=1         run muted
  TIMEOUT=<seconds>        timeout in seconds
  LOG_LEVEL=<level>        log level

Examples:
  midiscope song.mid -sf2 gm.sf2        play through the software synthesizer
  midiscope song.mid -port "FluidSynth" play through an external port
  midiscope song.mid -start 1920        start one bar in (at 480 PPQN)
  midiscope song.mid -mute -t 5         dry run for five seconds
`)
}
