package handler

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var pageFS embed.FS

var pages = template.Must(template.ParseFS(pageFS, "templates/*.html"))

// writePage renders one of the embedded HTML pages. These are the only
// endpoints serving HTML; they exist for links opened from emails.
func writePage(w http.ResponseWriter, status int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}

// writeErrorPage renders the generic HTML error page.
func writeErrorPage(w http.ResponseWriter, status int, message string) {
	writePage(w, status, "error.html", struct{ Message string }{message})
}
