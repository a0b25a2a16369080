// Package auditmirror mirrors append-only audit records to Google Cloud
// Firestore as a secondary, best-effort copy alongside the Postgres
// AuditRepository (SPEC_FULL.md §3 "Google Cloud Firestore (audit mirror)").
//
// Adapted from the teacher's pkg/firestore/client.go: the same
// enabled/no-op Client shape (a Firestore sync that is entirely disabled by
// default and never blocks core persistence), generalized from Certen's
// transactionIntents/auditTrail document layout to a single flat
// auditRecords collection keyed by the bridge's own AuditRecord rows.
package auditmirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/certen/quantum-bridge/pkg/database"
)

// Mirror wraps a Firestore client for best-effort audit record mirroring.
// When disabled (the default), every method is a no-op: the Postgres
// AuditRepository remains the sole source of truth (spec §4.9 "append-only
// audit log... is the durable record").
type Mirror struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// Config configures a Mirror.
type Config struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to the service account JSON file. If
	// empty, uses GOOGLE_APPLICATION_CREDENTIALS or application default
	// credentials.
	CredentialsFile string

	// Enabled controls whether Firestore writes actually happen. If false,
	// all mirror operations are no-ops.
	Enabled bool

	Logger *log.Logger
}

// DefaultConfig builds a Config from environment variables, disabled unless
// AUDIT_MIRROR_ENABLED is set.
func DefaultConfig() *Config {
	return &Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("AUDIT_MIRROR_ENABLED", false),
		Logger:          log.New(os.Stdout, "[AuditMirror] ", log.LstdFlags),
	}
}

// New builds a Mirror. With Enabled=false it returns a no-op mirror without
// touching the network, so local development and tests never need
// credentials.
func New(ctx context.Context, cfg *Config) (*Mirror, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[AuditMirror] ", log.LstdFlags)
	}

	m := &Mirror{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("audit mirror disabled - running in no-op mode")
		return m, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("auditmirror: FIREBASE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auditmirror: failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditmirror: failed to create Firestore client: %w", err)
	}

	m.app = app
	m.firestore = client
	cfg.Logger.Printf("audit mirror initialized for project: %s", cfg.ProjectID)
	return m, nil
}

// Close releases the underlying Firestore client.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firestore != nil {
		return m.firestore.Close()
	}
	return nil
}

// IsEnabled reports whether the mirror performs real writes.
func (m *Mirror) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// MirrorAsync fires Mirror off in a background goroutine and only logs
// failures: the Firestore copy is best-effort and must never block or fail
// the caller's own (already-committed) Postgres audit append.
func (m *Mirror) MirrorAsync(rec *database.AuditRecord) {
	if !m.IsEnabled() {
		return
	}
	go func(r *database.AuditRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Mirror(ctx, r); err != nil {
			m.logger.Printf("⚠️ failed to mirror audit record %s: %v", r.ID, err)
		}
	}(rec)
}

// Mirror writes a single AuditRecord to Firestore at
// /auditRecords/{id}. Disabled mirrors return nil immediately.
func (m *Mirror) Mirror(ctx context.Context, rec *database.AuditRecord) error {
	if !m.IsEnabled() {
		m.logger.Printf("audit mirror disabled - skipping record %s action=%s", rec.ID, rec.Action)
		return nil
	}
	if m.firestore == nil {
		return fmt.Errorf("auditmirror: client not initialized")
	}

	docPath := fmt.Sprintf("auditRecords/%s", rec.ID)
	_, err := m.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"actor":       rec.Actor,
		"action":      rec.Action,
		"subjectKind": rec.SubjectKind,
		"subjectId":   rec.SubjectID,
		"before":      string(rec.Before),
		"after":       string(rec.After),
		"at":          rec.At,
	})
	if err != nil {
		return fmt.Errorf("auditmirror: failed to write audit record: %w", err)
	}

	m.logger.Printf("mirrored audit record: id=%s action=%s subject=%s/%s",
		rec.ID, rec.Action, rec.SubjectKind, rec.SubjectID)
	return nil
}

// Health checks Firestore connectivity; disabled mirrors always report
// healthy.
func (m *Mirror) Health(ctx context.Context) error {
	if !m.IsEnabled() {
		return nil
	}
	if m.firestore == nil {
		return fmt.Errorf("auditmirror: client not initialized")
	}
	_, err := m.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("auditmirror: health check failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && err.Error() == "rpc error: code = NotFound desc = Document not found"
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}
