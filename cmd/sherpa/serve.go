package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/audit"
	"github.com/sherpa-network/sherpa/pkg/auth"
	"github.com/sherpa-network/sherpa/pkg/config"
	"github.com/sherpa-network/sherpa/pkg/docker"
	"github.com/sherpa-network/sherpa/pkg/hostnet"
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/lab"
	"github.com/sherpa-network/sherpa/pkg/server"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
	"github.com/sherpa-network/sherpa/pkg/version"
	"github.com/sherpa-network/sherpa/pkg/virt"
)

const (
	auditMaxSize    = 10 * 1024 * 1024
	auditMaxBackups = 5
	drainTimeout    = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sherpa daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogFormat == "json" {
		util.SetJSONFormat()
	}
	util.Infof("sherpa %s starting, base %s", version.Info(), cfg.BaseDir)

	for _, dir := range []string{cfg.ImagesDir(), cfg.LabsDir(), cfg.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	defer db.Close()

	auditLog, err := audit.NewFileLogger(filepath.Join(cfg.LogDir(), "audit.jsonl"),
		audit.RotationConfig{MaxSize: auditMaxSize, MaxBackups: auditMaxBackups})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()
	audit.SetDefaultLogger(auditLog)

	dock, err := docker.Connect(cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("connect docker %s: %w", cfg.DockerHost, err)
	}

	// A host without a hypervisor can still run container-only labs, so
	// a libvirt connection failure is a warning, not a fatal.
	var libvirtPing func() error
	var vsession lab.Virt = virtUnavailable{}
	vs, err := virt.Connect(cfg.LibvirtURI)
	if err != nil {
		util.Warnf("libvirt unavailable (%v): VM nodes will fail to deploy", err)
	} else {
		defer vs.Close()
		vsession = vs
		libvirtPing = vs.Ping
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}

	registry := images.NewRegistry(db, cfg.ImagesDir())
	engine := lab.New(db, registry, vsession, dock, hostnet.New(), cfg)

	if err := bootstrapAdmin(ctx, db); err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Cfg:         cfg,
		Issuer:      issuer,
		DB:          db,
		Engine:      engine,
		Images:      registry,
		Docker:      dock,
		LibvirtPing: libvirtPing,
	})

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		util.Infof("listening on %s", cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		util.Info("shutdown signal received, draining")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Listen, err)
		}
		return nil
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(drainCtx); err != nil {
		util.Warnf("http shutdown: %v", err)
	}
	srv.Shutdown()
	util.Info("sherpa stopped")
	return nil
}

// bootstrapAdmin creates the initial admin account on a fresh store. The
// generated password is printed exactly once; it is not stored anywhere
// in recoverable form.
func bootstrapAdmin(ctx context.Context, db *store.Store) error {
	users, err := db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	password := hex.EncodeToString(raw)
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := db.CreateUser(ctx, &store.User{
		Username:     "admin",
		PasswordHash: hash,
		IsAdmin:      true,
	}); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	fmt.Printf("\nFirst start: created user %q with password %q\n", "admin", password)
	fmt.Println("Log in and change it: sherpactl login admin && sherpactl user passwd")
	fmt.Println()
	util.Info("bootstrap: created initial admin account")
	return nil
}
