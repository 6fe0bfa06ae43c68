package api

import (
	"embed"
	"html/template"
	"net/http"

	"strdash/connection"
	"strdash/render"
	"strdash/session"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// indexData is the model of the dashboard page.
type indexData struct {
	State    render.PageState
	Defaults connection.ConnectAllParams
	Username string
}

// Connected reports the badge state of a source by name.
func (d indexData) Connected(source string) bool {
	return d.State.Badges[session.Source(source)].Connected
}

// index renders the dashboard for the request's workspace.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	username, _ := GetUsername(r.Context())

	defaults := ws.Defaults
	defaults.Primary.Password = ""
	defaults.Analytics.Password = ""

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		State:    ws.Page.State(),
		Defaults: defaults,
		Username: username,
	}); err != nil {
		s.logger.Errorw("Failed to render dashboard", "error", err)
	}
}
