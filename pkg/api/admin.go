package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/store"
)

// parseIDParam parses the numeric {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}

	return uint(id), nil
}

// normalizeIdentifier treats an empty username or email as absent, so
// a blank string cannot slip past the at-least-one-identifier check.
func normalizeIdentifier(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}

	return v
}

// --- User management ---

// handleListUsers returns all users with their roles.
func (s *server) handleListUsers(
	w http.ResponseWriter, r *http.Request,
) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type adminUserRequest struct {
	Username  *string  `json:"username"`
	Email     *string  `json:"email"`
	Password  *string  `json:"password"`
	FirstName *string  `json:"first_name"`
	LastName  *string  `json:"last_name"`
	Active    *bool    `json:"active"`
	Confirmed *bool    `json:"confirmed"`
	Roles     []string `json:"roles"`
}

// handleCreateUser creates a user from the admin console.
func (s *server) handleCreateUser(
	w http.ResponseWriter, r *http.Request,
) {
	var req adminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	req.Username = normalizeIdentifier(req.Username)
	req.Email = normalizeIdentifier(req.Email)

	if req.Username == nil && req.Email == nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username or email is required"})

		return
	}

	user := &store.User{
		Username: req.Username,
		Email:    req.Email,
		Active:   true,
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}

	if req.LastName != nil {
		user.LastName = *req.LastName
	}

	if req.Active != nil {
		user.Active = *req.Active
	}

	if req.Confirmed == nil || *req.Confirmed {
		now := time.Now().UTC()
		user.EmailConfirmedAt = &now
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

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}

	if err := s.store.SetUserRoles(r.Context(), user, roles); err != nil {
		s.log.WithError(err).Error("Failed to set roles")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleUpdateUser updates a user's details, roles, or active state.
// Admins cannot change their own role list, matching the self-lockout
// guard in the console.
func (s *server) handleUpdateUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid user id"})

		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	}

	var req adminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	actor := userFromContext(r.Context())
	if req.Roles != nil && actor != nil && actor.ID == user.ID {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot change own roles"})

		return
	}

	// A provided-but-empty identifier clears the field.
	if req.Username != nil {
		user.Username = normalizeIdentifier(req.Username)
	}

	if req.Email != nil {
		user.Email = normalizeIdentifier(req.Email)
	}

	if user.Username == nil && user.Email == nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username or email is required"})

		return
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}

	if req.LastName != nil {
		user.LastName = *req.LastName
	}

	if req.Active != nil {
		user.Active = *req.Active
	}

	if req.Confirmed != nil {
		if *req.Confirmed {
			if user.EmailConfirmedAt == nil {
				now := time.Now().UTC()
				user.EmailConfirmedAt = &now
			}
		} else {
			user.EmailConfirmedAt = nil
		}
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
				errorResponse{"account already exists"})

			return
		}

		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if req.Roles != nil {
		if err := s.store.SetUserRoles(
			r.Context(), user, req.Roles,
		); err != nil {
			s.log.WithError(err).Error("Failed to set roles")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser deletes a user along with their sessions and API
// keys. Self-deletion is rejected.
func (s *server) handleDeleteUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid user id"})

		return
	}

	actor := userFromContext(r.Context())
	if actor != nil && actor.ID == id {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete own account"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"user not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Role management ---

type roleResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// handleListRoles returns all roles.
func (s *server) handleListRoles(
	w http.ResponseWriter, r *http.Request,
) {
	roles, err := s.store.ListRoles(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list roles")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]roleResponse, 0, len(roles))
	for i := range roles {
		resp = append(resp, roleResponse{
			ID:    roles[i].ID,
			Name:  roles[i].Name,
			Label: roles[i].Label,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type createRoleRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// handleCreateRole creates a role if it does not already exist.
func (s *server) handleCreateRole(
	w http.ResponseWriter, r *http.Request,
) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	role, err := s.store.FindOrCreateRole(r.Context(), req.Name, req.Label)
	if err != nil {
		s.log.WithError(err).Error("Failed to create role")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, roleResponse{
		ID:    role.ID,
		Name:  role.Name,
		Label: role.Label,
	})
}

// --- Session management ---

type sessionResponse struct {
	ID           uint    `json:"id"`
	UserID       uint    `json:"user_id"`
	CreatedAt    string  `json:"created_at"`
	ExpiresAt    string  `json:"expires_at"`
	LastActiveAt *string `json:"last_active_at"`
}

// handleListSessions returns all active sessions. Tokens are never
// included.
func (s *server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]sessionResponse, 0, len(sessions))

	for i := range sessions {
		sr := sessionResponse{
			ID:        sessions[i].ID,
			UserID:    sessions[i].UserID,
			CreatedAt: sessions[i].CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: sessions[i].ExpiresAt.UTC().Format(time.RFC3339),
		}

		if sessions[i].LastActiveAt != nil {
			v := sessions[i].LastActiveAt.UTC().Format(time.RFC3339)
			sr.LastActiveAt = &v
		}

		resp = append(resp, sr)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteSessionByID revokes a session by numeric ID.
func (s *server) handleDeleteSessionByID(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid session id"})

		return
	}

	if err := s.store.DeleteSessionByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"session not found"})

			return
		}

		s.log.WithError(err).Error("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- API key management ---

// handleListAllAPIKeys lists every API key across all users.
func (s *server) handleListAllAPIKeys(
	w http.ResponseWriter, r *http.Request,
) {
	keys, err := s.store.ListAPIKeys(r.Context())
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

// handleDeleteAPIKey revokes any user's API key.
func (s *server) handleDeleteAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetAPIKey(r.Context(), id); err != nil {
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
