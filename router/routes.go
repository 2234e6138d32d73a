// Package router is the HTTP surface of the development relay: auth
// endpoints and the authenticated websocket.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/token"
	"github.com/chatspot/chatspot/ws"
	"github.com/gorilla/mux"
)

type contextKey string

const usernameKey contextKey = "username"

type Router struct {
	users   *UserStore
	wsHub   *ws.Hub
	issuer  *token.Issuer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(users *UserStore, wsHub *ws.Hub, issuer *token.Issuer, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{users: users, wsHub: wsHub, issuer: issuer, logger: logger, metrics: m}
}

func (router *Router) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", router.Health).Methods("GET")
	r.HandleFunc("/auth/register", router.Register).Methods("POST")
	r.HandleFunc("/auth/login", router.Login).Methods("POST")
	if router.metrics != nil {
		r.Handle("/metrics", router.metrics.Handler()).Methods("GET")
	}

	r.Handle("/ws", router.authenticationHandler(http.HandlerFunc(router.JoinWebsocket))).Methods("GET")

	return r
}

// --------------------- Router Helper Funcs ----------------------

// getToken reads the bearer token from the Authorization header, or from the
// token query parameter for clients that cannot set headers on a websocket.
func (router *Router) getToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, nil
		}
		return "", MissingAuthHeaderError{}
	}

	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || raw == "" {
		return "", MalformedTokenError{}
	}
	return raw, nil
}

func (router *Router) authenticate(r *http.Request) (string, error) {
	raw, err := router.getToken(r)
	if err != nil {
		return "", err
	}
	username, err := router.issuer.Validate(raw)
	if err != nil {
		return "", InvalidTokenError{err}
	}
	return username, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeCredentials(r *http.Request) (username, password string, ok bool) {
	var userData = struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&userData); err != nil {
		return "", "", false
	}
	if userData.Username == "" || userData.Password == "" {
		return "", "", false
	}
	return userData.Username, userData.Password, true
}

// ---------------------- Router HandleFuncs ----------------------

func (router *Router) authenticationHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, err := router.authenticate(r)
		if err != nil {
			router.logger.Debug("Rejected websocket request", "remote", r.RemoteAddr, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		// Store the username in request context for ease of access later on.
		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register : Route "/auth/register" - Expects a 'username' and 'password'.
// Creates the account and answers with a fresh access token.
func (router *Router) Register(w http.ResponseWriter, r *http.Request) {
	username, password, ok := decodeCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if _, err := router.users.CreateUser(username, password); err != nil {
		var taken UsernameTakenError
		var invalid InvalidUsernameError
		switch {
		case errors.As(err, &taken):
			writeError(w, http.StatusConflict, "Username already taken")
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, "Invalid username")
		default:
			router.logger.Error("Failed to store user", "user", username, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	router.logger.Info("User registered", "user", username)
	router.issue(w, username, http.StatusCreated)
}

// Login : Route "/auth/login" - Verifies the password against the stored
// bcrypt hash and answers with a fresh access token.
func (router *Router) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := decodeCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if _, err := router.users.Authenticate(username, password); err != nil {
		var bad InvalidCredentialsError
		if errors.As(err, &bad) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		router.logger.Error("Failed to load user", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	router.issue(w, username, http.StatusOK)
}

func (router *Router) issue(w http.ResponseWriter, username string, status int) {
	userToken, err := router.issuer.CreateToken(username)
	if err != nil {
		router.logger.Error("Failed to create token", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}
	writeJSON(w, status, map[string]string{"access_token": userToken.Token})
}

// JoinWebsocket upgrades an authenticated request and hands the connection
// to the hub.
func (router *Router) JoinWebsocket(w http.ResponseWriter, r *http.Request) {
	username, ok := r.Context().Value(usernameKey).(string)
	if !ok || username == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ws.ServeWs(router.wsHub, username, w, r)
}
