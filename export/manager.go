// Package export drives the two-phase TOML export: the backend stages the
// artifact from session-held data, then the artifact is downloaded.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"strdash/backend"
	"strdash/metrics"
	"strdash/session"
	"strdash/storage"
	"strdash/util"
)

var (
	// ErrNothingToExport is returned when no alert is loaded.
	ErrNothingToExport = errors.New("no alert data to export")
	// ErrExportInProgress is returned while another export runs.
	ErrExportInProgress = errors.New("an export is already in progress")
)

// Backend is the subset of the backend API an export calls.
type Backend interface {
	PrepareTOML(ctx context.Context) (*backend.ExportTicket, error)
	DownloadTOML(ctx context.Context, w io.Writer) (string, int64, error)
}

// Auditor records exports.
type Auditor interface {
	Record(ctx context.Context, e storage.AuditEvent) error
}

// Result describes a finished export.
type Result struct {
	AlertID     string `json:"alert_id"`
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
	Path        string `json:"path,omitempty"`
	Bytes       int64  `json:"bytes"`
	Message     string `json:"message,omitempty"`
}

// Manager is the TomlExportManager of one workspace.
type Manager struct {
	backend   Backend
	state     *session.SearchState
	bridge    *session.Bridge
	auditor   Auditor
	sessionID string
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	running bool
}

// NewManager creates an export manager. state and bridge may be nil.
func NewManager(b Backend, state *session.SearchState, bridge *session.Bridge, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{backend: b, state: state, bridge: bridge, logger: logger}
}

// SetAuditor enables audit entries for the given workspace session.
func (m *Manager) SetAuditor(a Auditor, sessionID string) {
	m.auditor = a
	m.sessionID = sessionID
}

func (m *Manager) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) alertID() string {
	if m.state == nil {
		return ""
	}
	return m.state.AlertID()
}

// Prepare asks the backend to stage the export and returns the download
// URL. In-flight session mirrors are awaited first so the staged artifact
// sees every value of the current search.
func (m *Manager) Prepare(ctx context.Context) (string, error) {
	ticket, err := m.prepare(ctx)
	if err != nil {
		return "", err
	}
	return ticket.DownloadURL, nil
}

func (m *Manager) prepare(ctx context.Context) (*backend.ExportTicket, error) {
	if m.state != nil && !m.state.HasData() {
		return nil, ErrNothingToExport
	}
	if m.bridge != nil {
		m.bridge.Wait()
	}
	ticket, err := m.backend.PrepareTOML(ctx)
	if err != nil {
		m.logger.Warnw("Export preparation failed",
			"alert_id", m.alertID(),
			"error", util.SanitizeError(err))
		return nil, fmt.Errorf("prepare export: %w", err)
	}
	return ticket, nil
}

// Download streams the prepared artifact to w.
func (m *Manager) Download(ctx context.Context, w io.Writer) (string, int64, error) {
	name, n, err := m.backend.DownloadTOML(ctx, w)
	if err != nil {
		return "", n, fmt.Errorf("download export: %w", err)
	}
	return util.SafeFilename(name, m.defaultFilename()), n, nil
}

func (m *Manager) defaultFilename() string {
	if id := util.SafeFilename(m.alertID(), ""); id != "" {
		return "str_" + id + ".toml"
	}
	return "str_export.toml"
}

// Run prepares the export and, only when that succeeds, downloads it to w.
// A failed preparation writes nothing.
func (m *Manager) Run(ctx context.Context, w io.Writer) (*Result, error) {
	if !m.acquire() {
		return nil, ErrExportInProgress
	}
	defer m.release()
	return m.run(ctx, func(res *Result) error {
		name, n, err := m.Download(ctx, w)
		res.Filename, res.Bytes = name, n
		return err
	})
}

// ToFile runs the export into a file. An empty path uses the filename the
// backend supplied; relative paths are resolved inside dir.
func (m *Manager) ToFile(ctx context.Context, path, dir string) (*Result, error) {
	if !m.acquire() {
		return nil, ErrExportInProgress
	}
	defer m.release()
	if dir == "" {
		dir = "."
	}

	return m.run(ctx, func(res *Result) error {
		tmp, err := os.CreateTemp(dir, ".strdash-export-*")
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer os.Remove(tmp.Name())

		name, n, err := m.Download(ctx, tmp)
		if cerr := tmp.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to write export file: %w", cerr)
		}
		if err != nil {
			return err
		}

		target := path
		if target == "" {
			target = name
		}
		resolved, err := util.ResolveOutputPath(target, dir)
		if err != nil {
			return fmt.Errorf("invalid export path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		if err := os.Rename(tmp.Name(), resolved); err != nil {
			return fmt.Errorf("failed to move export file: %w", err)
		}
		res.Filename, res.Bytes, res.Path = name, n, resolved
		return nil
	})
}

func (m *Manager) run(ctx context.Context, download func(*Result) error) (*Result, error) {
	start := time.Now()
	res := &Result{AlertID: m.alertID()}

	ticket, err := m.prepare(ctx)
	if err != nil {
		m.finish(ctx, res, "prepare_failed", err, start)
		return nil, err
	}
	res.DownloadURL = ticket.DownloadURL
	res.Message = ticket.Message

	if err := download(res); err != nil {
		m.finish(ctx, res, "download_failed", err, start)
		return nil, err
	}
	m.finish(ctx, res, "success", nil, start)
	return res, nil
}

func (m *Manager) finish(ctx context.Context, res *Result, outcome string, err error, start time.Time) {
	metrics.Exports.WithLabelValues(outcome).Inc()
	if err == nil {
		m.logger.Infow("Export completed",
			"alert_id", res.AlertID,
			"filename", res.Filename,
			"bytes", res.Bytes,
			"duration", time.Since(start))
	}
	if m.auditor == nil {
		return
	}
	event := storage.AuditEvent{
		Kind:      storage.AuditKindExport,
		SessionID: m.sessionID,
		Subject:   res.AlertID,
		Outcome:   outcome,
		Duration:  time.Since(start),
		Details:   map[string]any{"filename": res.Filename, "bytes": res.Bytes},
	}
	if err != nil {
		event.Message = util.SanitizeError(err)
	}
	if aerr := m.auditor.Record(context.WithoutCancel(ctx), event); aerr != nil {
		m.logger.Warnw("Failed to record audit event", "kind", storage.AuditKindExport, "error", aerr)
	}
}
