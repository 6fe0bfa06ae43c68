package export

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"strdash/backend"
	"strdash/core"
	"strdash/session"
	"strdash/storage"
)

type fakeBackend struct {
	prepareErr error
	prepared   int
	downloaded int
	filename   string
	body       string
}

func (f *fakeBackend) PrepareTOML(context.Context) (*backend.ExportTicket, error) {
	f.prepared++
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &backend.ExportTicket{DownloadURL: "http://backend/api/download_toml/", Message: "ready"}, nil
}

func (f *fakeBackend) DownloadTOML(_ context.Context, w io.Writer) (string, int64, error) {
	f.downloaded++
	n, err := io.WriteString(w, f.body)
	return f.filename, int64(n), err
}

func loadedState(alertID string) *session.SearchState {
	s := session.NewSearchState()
	s.Load(alertID, &core.Table{Columns: []string{core.ColAlertID}, Rows: [][]any{{alertID}}}, core.DerivedAlertContext{})
	return s
}

type auditRecorder struct{ events []storage.AuditEvent }

func (a *auditRecorder) Record(_ context.Context, e storage.AuditEvent) error {
	a.events = append(a.events, e)
	return nil
}

func TestRun_PrepareThenDownload(t *testing.T) {
	fb := &fakeBackend{filename: "../../etc/str_A1.toml", body: "[alert]\nid = \"A1\"\n"}
	m := NewManager(fb, loadedState("A1"), nil, zaptest.NewLogger(t).Sugar())
	auditor := &auditRecorder{}
	m.SetAuditor(auditor, "sid")

	var buf bytes.Buffer
	res, err := m.Run(context.Background(), &buf)
	require.NoError(t, err)

	assert.Equal(t, "str_A1.toml", res.Filename, "server filename is reduced to its base name")
	assert.Equal(t, int64(buf.Len()), res.Bytes)
	assert.Equal(t, "http://backend/api/download_toml/", res.DownloadURL)
	assert.Equal(t, "A1", res.AlertID)
	assert.Contains(t, buf.String(), `id = "A1"`)

	require.Len(t, auditor.events, 1)
	assert.Equal(t, storage.AuditKindExport, auditor.events[0].Kind)
	assert.Equal(t, "success", auditor.events[0].Outcome)
}

func TestRun_PrepareFailureNeverDownloads(t *testing.T) {
	fb := &fakeBackend{prepareErr: &backend.Error{Kind: backend.KindBusiness, Message: "No data in session"}}
	m := NewManager(fb, loadedState("A1"), nil, nil)

	var buf bytes.Buffer
	_, err := m.Run(context.Background(), &buf)
	require.Error(t, err)
	assert.Equal(t, "No data in session", backend.UserMessage(err, ""))
	assert.Zero(t, fb.downloaded)
	assert.Zero(t, buf.Len())
}

func TestPrepare_RequiresLoadedAlert(t *testing.T) {
	fb := &fakeBackend{}
	m := NewManager(fb, session.NewSearchState(), nil, nil)

	_, err := m.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrNothingToExport)
	assert.Zero(t, fb.prepared)
}

func TestPrepare_WaitsForMirrors(t *testing.T) {
	mirror := &slowMirror{release: make(chan struct{})}
	bridge := session.NewBridge("sid", nil, mirror, 0, nil)
	bridge.Save(context.Background(), session.KeyAlertID, "A1")

	fb := &fakeBackend{}
	m := NewManager(fb, loadedState("A1"), bridge, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Prepare(context.Background())
	}()
	close(mirror.release)
	<-done
	assert.True(t, mirror.finished)
	assert.Equal(t, 1, fb.prepared)
}

type slowMirror struct {
	release  chan struct{}
	finished bool
}

func (s *slowMirror) SaveToSession(context.Context, string, any) error {
	<-s.release
	s.finished = true
	return nil
}

func TestDownload_DefaultFilename(t *testing.T) {
	fb := &fakeBackend{body: "x"}
	m := NewManager(fb, loadedState("A1"), nil, nil)

	name, _, err := m.Download(context.Background(), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "str_A1.toml", name)
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	fb := &fakeBackend{filename: "str_A1.toml", body: "content"}
	m := NewManager(fb, loadedState("A1"), nil, nil)

	res, err := m.ToFile(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "str_A1.toml"), res.Path)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	res, err = m.ToFile(context.Background(), "nested/out.toml", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "nested", "out.toml"))
	assert.Equal(t, int64(7), res.Bytes)

	_, err = m.ToFile(context.Background(), "../escape.toml", dir)
	assert.Error(t, err)
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".strdash-export-", "temporary files are removed")
	}
}
