package config

import (
	"fmt"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are reported individually; everything
// else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MaxDurationChanged is set when recording.max_duration changed. The new
	// limit applies to the next recording.
	MaxDurationChanged bool
	NewMaxDuration     time.Duration

	// RestartRequired is set when providers, audio or other recording fields
	// changed. RestartSections names them in config order, e.g.
	// "providers.live" or "audio".
	RestartRequired bool
	RestartSections []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.Hot() || d.RestartRequired
}

// Hot reports whether a field that applies without a restart changed.
func (d ConfigDiff) Hot() bool {
	return d.LogLevelChanged || d.MaxDurationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recording.MaxDuration != new.Recording.MaxDuration {
		d.MaxDurationChanged = true
		d.NewMaxDuration = new.Recording.MaxDuration
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartSections = append(d.RestartSections, "server.listen_addr")
	}
	if !entryEqual(old.Providers.Live, new.Providers.Live) {
		d.RestartSections = append(d.RestartSections, "providers.live")
	}
	if !slices.EqualFunc(old.Providers.Batch, new.Providers.Batch, entryEqual) {
		d.RestartSections = append(d.RestartSections, "providers.batch")
	}
	oldRec, newRec := old.Recording, new.Recording
	oldRec.MaxDuration, newRec.MaxDuration = 0, 0
	if oldRec != newRec {
		d.RestartSections = append(d.RestartSections, "recording")
	}
	if old.Audio != new.Audio {
		d.RestartSections = append(d.RestartSections, "audio")
	}
	d.RestartRequired = len(d.RestartSections) > 0
	return d
}

// entryEqual compares the scalar fields of two entries and the string form
// of their options.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
