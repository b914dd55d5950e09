package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth handlers ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User userResponse `json:"user"`
}

type userResponse struct {
	ID        uint     `json:"id"`
	Username  *string  `json:"username"`
	Email     *string  `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Active    bool     `json:"active"`
	Confirmed bool     `json:"confirmed"`
	Roles     []string `json:"roles"`
}

func toUserResponse(u *store.User) userResponse {
	roles := make([]string, 0, len(u.Roles))
	for i := range u.Roles {
		roles = append(roles, u.Roles[i].Name)
	}

	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Active:    u.Active,
		Confirmed: u.EmailConfirmedAt != nil,
		Roles:     roles,
	}
}

// handleLogin authenticates a user and creates a session. The error
// message is identical for every failure mode.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.authn.AuthenticateCredentials(
		r.Context(), req.Username, req.Password,
	)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	token, err := generateSessionToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate session token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	ttl := s.cfg.Auth.SessionTTLDuration()

	session := &store.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.log.WithError(err).Error("Failed to create session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(ttl.Seconds()),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		User: toUserResponse(user),
	})
}

// handleLogout destroys the current session.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		_ = s.store.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the currently authenticated user.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// handleRegister creates a new self-service account with the default
// role. Email confirmation is left to the admin console; until then the
// account cannot log in when confirmation is required.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Email == "" && req.Username == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username or email is required"})

		return
	}

	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"password is required"})

		return
	}

	hash, err := auth.HashSecret(req.Password)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user := &store.User{
		PasswordHash: hash,
		Active:       true,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	}

	if req.Username != "" {
		user.Username = &req.Username
	}

	if req.Email != "" {
		user.Email = &req.Email
	}

	if !s.cfg.Auth.RequireConfirmedEmail {
		now := time.Now().UTC()
		user.EmailConfirmedAt = &now
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusConflict,
				errorResponse{"account already exists"})

			return
		}

		s.log.WithError(err).Error("Failed to create user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if err := s.store.SetUserRoles(
		r.Context(), user, []string{"user"},
	); err != nil {
		s.log.WithError(err).Error("Failed to grant default role")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// --- Profile handlers ---

type profileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
}

// handleGetProfile returns the session user's profile.
func (s *server) handleGetProfile(
	w http.ResponseWriter, r *http.Request,
) {
	writeJSON(w, http.StatusOK, toUserResponse(userFromContext(r.Context())))
}

// handleUpdateProfile updates the session user's own profile fields.
func (s *server) handleUpdateProfile(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}

	if req.LastName != nil {
		user.LastName = *req.LastName
	}

	if req.Email != nil && *req.Email != "" {
		user.Email = req.Email
	}

	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashSecret(*req.Password)
		if err != nil {
			s.log.WithError(err).Error("Failed to hash password")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusConflict,
				errorResponse{"email already in use"})

			return
		}

		s.log.WithError(err).Error("Failed to update profile")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// --- API key handlers ---

type createAPIKeyRequest struct {
	Label *string `json:"label"`
}

type createAPIKeyResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type apiKeyResponse struct {
	ID        string  `json:"id"`
	Label     *string `json:"label"`
	UserID    uint    `json:"user_id"`
	CreatedAt string  `json:"created_at"`
}

func toAPIKeyResponse(k *store.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:        k.ID,
		Label:     k.Label,
		UserID:    k.UserID,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleCreateAPIKey creates a new API key for the session user. The
// secret appears in this response and never again.
func (s *server) handleCreateAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	resp, err := s.issueAPIKey(r, user, req.Label)
	if err != nil {
		s.log.WithError(err).Error("Failed to create API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// issueAPIKey generates and stores a key pair for the given user.
func (s *server) issueAPIKey(
	r *http.Request, user *store.User, label *string,
) (*createAPIKeyResponse, error) {
	id, secret, digest, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &store.APIKey{
		ID:     id,
		Hash:   digest,
		Label:  label,
		UserID: user.ID,
	}

	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		return nil, err
	}

	return &createAPIKeyResponse{ID: id, Key: secret}, nil
}

// handleListMyAPIKeys lists API keys owned by the session user.
func (s *server) handleListMyAPIKeys(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())

	keys, err := s.store.ListAPIKeysByUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list API keys")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		resp = append(resp, toAPIKeyResponse(&keys[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteMyAPIKey deletes an API key owned by the session user.
func (s *server) handleDeleteMyAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())
	id := chi.URLParam(r, "id")

	key, err := s.store.GetAPIKey(r.Context(), id)
	if err != nil || key.UserID != user.ID {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"api key not found"})

		return
	}

	if err := s.store.DeleteAPIKey(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Credential exchange ---

type createCredentialsRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Label    *string `json:"label"`
}

// handleCreateCredentials authenticates with a username/password pair
// and issues a fresh API key. Works in both local and directory mode.
func (s *server) handleCreateCredentials(
	w http.ResponseWriter, r *http.Request,
) {
	var req createCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.authn.AuthenticateCredentials(
		r.Context(), req.Username, req.Password,
	)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	resp, err := s.issueAPIKey(r, user, req.Label)
	if err != nil {
		s.log.WithError(err).Error("Failed to create API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// --- API-key-gated handlers ---

// handleAPIWhoami returns the key owner, for clients to verify their
// credentials.
func (s *server) handleAPIWhoami(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())
	key := apiKeyFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   toUserResponse(user),
		"key_id": key.ID,
		"label":  key.Label,
	})
}
