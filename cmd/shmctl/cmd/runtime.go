package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gobeyondidentity/shm/internal/config"
	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/killswitch"
	"github.com/gobeyondidentity/shm/pkg/lifecycle"
	"github.com/gobeyondidentity/shm/pkg/store"
)

// runtime holds everything a command needs for one invocation.
type runtime struct {
	cfg    *config.Config
	store  *store.Store
	engine *lifecycle.Engine
	syslog *audit.SyslogWriter
	logger *slog.Logger
}

// openRuntime loads config, opens the store and wires the engine. Audit
// records always go to the slog logger and, when enabled, to syslog; an
// unreachable syslog daemon is logged and skipped.
func openRuntime(ctx context.Context, stderr io.Writer) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(stderr)

	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &runtime{cfg: cfg, store: db, logger: logger}

	emitters := []audit.Emitter{audit.NewSlogEmitter(logger)}
	azCfg := authz.Config{Logger: logger}
	if cfg.Audit.Syslog {
		sw, err := audit.NewSyslogWriter(cfg.SyslogConfig())
		if err != nil {
			logger.Warn("syslog unavailable, continuing without it", "error", err)
		} else {
			r.syslog = sw
			emitters = append(emitters, sw)
			azCfg.AuditLogger = sw
		}
	}
	fanout := audit.NewFanout(logger, emitters...)

	az, err := authz.NewAuthorizer(azCfg)
	if err != nil {
		r.close()
		return nil, fmt.Errorf("create authorizer: %w", err)
	}

	ks := killswitch.New(killswitch.Config{
		Authorizer: az,
		Zones:      db,
		Persister:  db,
		Audit:      fanout,
		Logger:     logger,
		Clock:      time.Now,
	})
	if err := ks.Restore(ctx); err != nil {
		r.close()
		return nil, err
	}

	r.engine, err = lifecycle.New(ctx, db, lifecycle.Config{
		Authorizer:   az,
		KillSwitch:   ks,
		Thresholds:   &cfg.Thresholds,
		Settings:     db,
		GatedStages:  cfg.GatedStages,
		TTLDays:      cfg.TTLDays,
		Distribution: &cfg.Distribution,
		Audit:        fanout,
		Logger:       logger,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *runtime) close() {
	if r.syslog != nil {
		r.syslog.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}
