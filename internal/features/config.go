package features

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnvironment applies feature flag overrides from environment
// variables of the form TELEMIRROR_FEATURE_<FLAG_NAME>=true/false.
// TELEMIRROR_FEATURES_DISABLE_ALL short-circuits everything off, which
// is the fastest way to quiesce the pipeline without a redeploy.
func (fm *FlagManager) LoadFromEnvironment() {
	const (
		envPrefix     = "TELEMIRROR_FEATURE_"
		envEnableAll  = "TELEMIRROR_FEATURES_ENABLE_ALL"
		envDisableAll = "TELEMIRROR_FEATURES_DISABLE_ALL"
	)

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if envValue := os.Getenv(envEnableAll); envValue != "" {
		if enableAll, _ := strconv.ParseBool(envValue); enableAll {
			for _, flag := range fm.flags {
				flag.Enabled = true
				flag.UpdatedAt = time.Now()
			}
			return
		}
	}

	if envValue := os.Getenv(envDisableAll); envValue != "" {
		if disableAll, _ := strconv.ParseBool(envValue); disableAll {
			for _, flag := range fm.flags {
				flag.Enabled = false
				flag.UpdatedAt = time.Now()
			}
			return
		}
	}

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}

		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}

		flagName := strings.ToLower(strings.TrimPrefix(parts[0], envPrefix))
		enabled, err := strconv.ParseBool(parts[1])
		if err != nil {
			continue
		}

		if flag, exists := fm.flags[flagName]; exists {
			flag.Enabled = enabled
			flag.UpdatedAt = time.Now()
			continue
		}
		if _, known := defaultFor(flagName); known {
			fm.registerLocked(flagName)
			fm.flags[flagName].Enabled = enabled
			continue
		}
		// Unknown names are recorded so ListFlags surfaces typos.
		fm.flags[flagName] = &Flag{
			Name:        flagName,
			Enabled:     enabled,
			Description: "Flag created from environment variable",
			UpdatedAt:   time.Now(),
			Tags:        []string{"env"},
		}
	}
}
