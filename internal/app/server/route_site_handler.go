package server

import (
	"net/http"

	"github.com/patcreator/alx-backend-security/internal/guard"
)

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func homePage(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Welcome to the IP Tracking Demo! Check the admin panel to see logged IPs.")
}

func loginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		writeText(w, http.StatusOK, "Login request received.")
		return
	}
	writeText(w, http.StatusOK, "Login page.")
}

func dashboardPage(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Dashboard.")
}

func adminPage(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Admin area.")
}

// rateLimitedPage doubles as the 429 body rendered by the guard middleware.
func rateLimitedPage(w http.ResponseWriter, r *http.Request) {
	body := "Too many requests. Please try again later."
	if outcome, ok := guard.OutcomeFromContext(r.Context()); ok && outcome.Verdict == guard.VerdictRateLimited {
		writeText(w, http.StatusTooManyRequests, body)
		return
	}
	writeText(w, http.StatusOK, body)
}
