package cmd

import (
	"context"
	"log/slog"

	"github.com/zoterag/zoterag/internal/config"
	"github.com/zoterag/zoterag/internal/logging"
	"github.com/zoterag/zoterag/internal/profile"
	"github.com/zoterag/zoterag/internal/service"
)

// loadConfig resolves the effective configuration for a command run,
// honoring the persistent --config and --debug flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// quietFileLogging routes logs to the log file only, keeping terminal
// output clean for command results. A no-op when --debug already
// installed its logger. The returned cleanup is safe to defer
// unconditionally.
func quietFileLogging(level string) func() {
	if loggingCleanup != nil {
		return func() {}
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// No log file is not worth failing the command over.
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}

// openProfiles returns the profile manager with the default profile
// guaranteed to exist and an active profile selected.
func openProfiles(cfg *config.Config) (*profile.Manager, error) {
	profiles, err := profile.NewManager(cfg.ProfilesDir())
	if err != nil {
		return nil, err
	}
	if _, err := profiles.EnsureDefault(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// openService opens the library service against the active profile's
// data directory. The caller owns the returned service and must Close
// it.
func openService(ctx context.Context, cfg *config.Config) (*service.Service, *profile.Manager, string, error) {
	profiles, err := openProfiles(cfg)
	if err != nil {
		return nil, nil, "", err
	}
	id, err := profiles.Active()
	if err != nil {
		return nil, nil, "", err
	}
	svc, err := service.Open(ctx, service.Options{
		Config:  cfg,
		DataDir: profiles.DataDir(id),
	})
	if err != nil {
		return nil, nil, "", err
	}
	return svc, profiles, id, nil
}
