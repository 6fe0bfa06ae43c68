package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadForm(t *testing.T) {
	t.Run("form", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("alert_id=A1&x=%20y"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		values, err := readForm(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "A1", values.Get("alert_id"))
		assert.Equal(t, " y", values.Get("x"))
	})

	t.Run("json scalars", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alert_id":"A1","port":5439,"tls":true,"skip":null}`))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		values, err := readForm(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "A1", values.Get("alert_id"))
		assert.Equal(t, "5439", values.Get("port"))
		assert.Equal(t, "true", values.Get("tls"))
		assert.NotContains(t, values, "skip")
	})

	t.Run("json object value", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alert_id":{"$ne":""}}`))
		r.Header.Set("Content-Type", "application/json")
		_, err := readForm(httptest.NewRecorder(), r)
		assert.ErrorContains(t, err, "must be a scalar")
	})
}

func TestGetRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4123"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.5", getRealIP(r, false))
	assert.Equal(t, "203.0.113.9", getRealIP(r, true))

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getRealIP(r, true))
}

func TestWriteError_SanitisesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadGateway, "backend said password=hunter2", nil, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}
