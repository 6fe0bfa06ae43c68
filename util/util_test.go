package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		absent  string
		present string
	}{
		{"password in form", "host=db&password=hunter2&user=kim", "hunter2", "password=REDACTED"},
		{"separator kept", "login failed, password: hunter2", "hunter2", "password: REDACTED"},
		{"json password", `{"password":"s3cret"}`, "s3cret", `"password":"REDACTED"`},
		{"csrf token", "csrftoken=abcdef123456; Path=/", "abcdef123456", "csrftoken=REDACTED"},
		{"resident number", "customer 900101-1234567 matched", "900101-1234567", "REDACTED_RRN"},
		{"mobile number", "phone 010-1234-5678", "010-1234-5678", "REDACTED_PHONE"},
		{"bearer", "Authorization: Bearer abc.def.ghi", "abc.def.ghi", "bearer REDACTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := SanitizeString(tt.input)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestSanitizeString_Truncates(t *testing.T) {
	big := make([]byte, MaxSanitizeLength+10)
	for i := range big {
		big[i] = 'a'
	}
	out := SanitizeString(string(big))
	assert.Contains(t, out, "[truncated]")
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))
	assert.Equal(t, "login failed: password=REDACTED", SanitizeError(errors.New("login failed: password=x1")))
}

func TestSanitizeForm(t *testing.T) {
	form := map[string]string{
		"oracle_host":     "10.0.0.1",
		"oracle_password": "pw",
		"password":        "pw",
		"alert_id":        "A1",
	}
	out := SanitizeForm(form)
	assert.Equal(t, "REDACTED", out["oracle_password"])
	assert.Equal(t, "REDACTED", out["password"])
	assert.Equal(t, "10.0.0.1", out["oracle_host"])
	assert.Equal(t, "pw", form["password"], "input is not modified")
	assert.Nil(t, SanitizeForm(nil))
}

func TestResolveOutputPath(t *testing.T) {
	dir := t.TempDir()

	p, err := ResolveOutputPath("alert.toml", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alert.toml"), p)

	_, err = ResolveOutputPath("../escape.toml", dir)
	assert.ErrorIs(t, err, ErrPathTraversal)

	abs := filepath.Join(t.TempDir(), "x.toml")
	p, err = ResolveOutputPath(abs, dir)
	require.NoError(t, err)
	assert.Equal(t, abs, p)

	target := filepath.Join(dir, "real.toml")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link.toml")))
	_, err = ResolveOutputPath("link.toml", dir)
	assert.ErrorIs(t, err, ErrSymlinkNotAllowed)

	_, err = ResolveOutputPath("", dir)
	assert.Error(t, err)
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "report.toml", SafeFilename("report.toml", "x"))
	assert.Equal(t, "passwd", SafeFilename("../../etc/passwd", "x"))
	assert.Equal(t, "evil.toml", SafeFilename(`C:\tmp\evil.toml`, "x"))
	assert.Equal(t, "fallback.toml", SafeFilename("..", "fallback.toml"))
	assert.Equal(t, "fallback.toml", SafeFilename("", "fallback.toml"))
}
