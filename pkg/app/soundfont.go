package app

import (
	"os"
	"path/filepath"

	"github.com/zurustar/midiscope/pkg/fileutil"
)

// DefaultSoundFontName is the SoundFont filename searched for when none is
// given explicitly.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// findSoundFont resolves the SoundFont to use, in order:
// 1. The explicitly configured path
// 2. The default name in the current directory
// 3. The default name next to the MIDI file
// Returns "" when nothing is found.
func findSoundFont(explicit, midiPath string) string {
	if explicit != "" {
		if path, err := fileutil.ResolvePath(explicit); err == nil {
			return path
		}
		// Let the caller report the failure against the configured name.
		return explicit
	}

	if _, err := os.Stat(DefaultSoundFontName); err == nil {
		return DefaultSoundFontName
	}

	if midiPath != "" {
		candidate := filepath.Join(filepath.Dir(midiPath), DefaultSoundFontName)
		if path, err := fileutil.ResolvePath(candidate); err == nil {
			return path
		}
	}

	return ""
}
