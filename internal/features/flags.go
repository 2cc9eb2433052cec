package features

import (
	"encoding/json"
	"sync"
	"time"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager creates a new feature flag manager
func NewFlagManager() *FlagManager {
	return &FlagManager{
		flags: make(map[string]*Flag),
	}
}

// Define flag constants for type safety
const (
	// Pipeline stages
	FlagGapFill         = "gap_fill"
	FlagSourceDiscovery = "source_discovery"
	FlagInitialBackfill = "initial_backfill"

	// Outer surfaces
	FlagEventStream = "event_stream"
	FlagReplayAPI   = "replay_api"

	// Experimental
	FlagAdaptiveBatching = "adaptive_batching"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
	Tags         []string
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagGapFill, "Run the recurring gap-fill sweep over enabled sources", true, []string{"pipeline"}},
	{FlagSourceDiscovery, "Periodically diff enabled sources and backfill newcomers", true, []string{"pipeline"}},
	{FlagInitialBackfill, "Backfill history for known sources on startup", true, []string{"pipeline"}},

	{FlagEventStream, "Expose the committed-row event feed over SSE", true, []string{"api"}},
	{FlagReplayAPI, "Allow re-ingesting dead-letter entries via the admin API", true, []string{"api"}},

	{FlagAdaptiveBatching, "Scale the batch window with queue depth", false, []string{"experimental"}},
}

func defaultFor(flagName string) (bool, bool) {
	for _, def := range DefaultFlags {
		if def.Name == flagName {
			return def.DefaultValue, true
		}
	}
	return false, false
}

// InitializeDefaults sets up all default flags
func (fm *FlagManager) InitializeDefaults() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	for _, def := range DefaultFlags {
		if _, exists := fm.flags[def.Name]; !exists {
			fm.flags[def.Name] = &Flag{
				Name:        def.Name,
				Enabled:     def.DefaultValue,
				Description: def.Description,
				UpdatedAt:   now,
				Tags:        def.Tags,
			}
		}
	}
}

// IsEnabled checks if a feature flag is enabled. A flag that was never
// registered falls back to its definition default, so callers behave
// sensibly even before Initialize runs.
func (fm *FlagManager) IsEnabled(flagName string) bool {
	fm.mu.RLock()
	flag, exists := fm.flags[flagName]
	fm.mu.RUnlock()

	if exists {
		return flag.Enabled
	}
	enabled, _ := defaultFor(flagName)
	return enabled
}

// Enable enables a feature flag
func (fm *FlagManager) Enable(flagName string) error {
	return fm.set(flagName, true)
}

// Disable disables a feature flag
func (fm *FlagManager) Disable(flagName string) error {
	return fm.set(flagName, false)
}

func (fm *FlagManager) set(flagName string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		if _, known := defaultFor(flagName); !known {
			return ErrFlagNotFound{Name: flagName}
		}
		fm.registerLocked(flagName)
		flag = fm.flags[flagName]
	}

	flag.Enabled = enabled
	flag.UpdatedAt = time.Now()
	return nil
}

// registerLocked materializes a known flag from its definition. Caller
// holds the write lock.
func (fm *FlagManager) registerLocked(flagName string) {
	for _, def := range DefaultFlags {
		if def.Name == flagName {
			fm.flags[def.Name] = &Flag{
				Name:        def.Name,
				Enabled:     def.DefaultValue,
				Description: def.Description,
				UpdatedAt:   time.Now(),
				Tags:        def.Tags,
			}
			return
		}
	}
}

// GetFlag returns a copy of the flag information
func (fm *FlagManager) GetFlag(flagName string) (*Flag, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return nil, ErrFlagNotFound{Name: flagName}
	}

	flagCopy := *flag
	if flag.Tags != nil {
		flagCopy.Tags = make([]string, len(flag.Tags))
		copy(flagCopy.Tags, flag.Tags)
	}
	return &flagCopy, nil
}

// ListFlags returns all registered flags, optionally filtered by tag.
func (fm *FlagManager) ListFlags(filterTags ...string) []*Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	var result []*Flag
	for _, flag := range fm.flags {
		if len(filterTags) > 0 && !hasAnyTag(flag.Tags, filterTags) {
			continue
		}
		flagCopy := *flag
		if flag.Tags != nil {
			flagCopy.Tags = make([]string, len(flag.Tags))
			copy(flagCopy.Tags, flag.Tags)
		}
		result = append(result, &flagCopy)
	}
	return result
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// ExportJSON exports all flags as JSON
func (fm *FlagManager) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(fm.ListFlags(), "", "  ")
}

// Global flag manager instance
var globalFlagManager = NewFlagManager()

// Initialize sets up the global flag manager with defaults
func Initialize() {
	globalFlagManager.InitializeDefaults()
}

// IsEnabled checks if a feature flag is enabled globally
func IsEnabled(flagName string) bool {
	return globalFlagManager.IsEnabled(flagName)
}

// Enable enables a feature flag globally
func Enable(flagName string) error {
	return globalFlagManager.Enable(flagName)
}

// Disable disables a feature flag globally
func Disable(flagName string) error {
	return globalFlagManager.Disable(flagName)
}

// GetGlobalManager returns the global flag manager
func GetGlobalManager() *FlagManager {
	return globalFlagManager
}

// ErrFlagNotFound is returned for flags with no definition.
type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return "feature flag not found: " + e.Name
}
