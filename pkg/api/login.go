package api

import (
	"embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/login.html
var staticFS embed.FS

// LoginRouter serves the static token-acquisition helper page. The page is a
// convenience for operators testing the API; it runs a browser sign-in and
// prints the resulting bearer token.
func LoginRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", serveLoginPage)
	return r
}

func serveLoginPage(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFS.ReadFile("static/login.html")
	if err != nil {
		http.Error(w, "login page unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}
