package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/users"
)

const (
	jsonAPIContentType = "application/vnd.api+json"
	usersType          = "users"
	maxAccountBody     = 1 << 16
)

type userAttributes struct {
	Name        string `json:"name,omitempty"`
	Password    string `json:"password,omitempty"`
	Rights      string `json:"rights,omitempty"`
	NewName     string `json:"newName,omitempty"`
	OldPassword string `json:"oldPassword,omitempty"`
	NewPassword string `json:"newPassword,omitempty"`
}

type userRequest struct {
	Data struct {
		Type       string         `json:"type"`
		Attributes userAttributes `json:"attributes"`
	} `json:"data"`
}

type userResource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes userAttributes `json:"attributes"`
	Token      string         `json:"token"`
}

type tokenMeta struct {
	ExpiresInSec int64 `json:"expiresInSec"`
}

type userDocument struct {
	Data userResource `json:"data"`
	Meta *tokenMeta   `json:"meta,omitempty"`
}

type apiError struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type errorDocument struct {
	Errors []apiError `json:"errors"`
}

// accountHandlers serve the /users endpoints that mint and rotate tokens.
type accountHandlers struct {
	tokens *auth.Service
	users  users.Store
	log    *zap.Logger
}

func newAccountHandlers(tokens *auth.Service, store users.Store, logger *zap.Logger) *accountHandlers {
	return &accountHandlers{
		tokens: tokens,
		users:  store,
		log:    logger.With(zap.String("component", "accounts")),
	}
}

// create handles POST /users.
func (a *accountHandlers) create(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r, true)
	if !ok {
		return
	}
	identity, err := a.users.CreateUser(r.Context(), req.Data.Attributes.Name, req.Data.Attributes.Password)
	switch {
	case errors.Is(err, users.ErrEmptyCredentials):
		writeAPIError(w, http.StatusUnauthorized, "Username or password can't be empty!")
		return
	case errors.Is(err, users.ErrNameTaken):
		writeAPIError(w, http.StatusConflict, "User name is already taken!")
		return
	case err != nil:
		a.internalError(w, "create user", err)
		return
	}
	a.issueSession(w, r, identity)
}

// login handles POST /users/login.
func (a *accountHandlers) login(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r, true)
	if !ok {
		return
	}
	identity, err := a.users.VerifyCredentials(r.Context(), req.Data.Attributes.Name, req.Data.Attributes.Password)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		writeAPIError(w, http.StatusUnauthorized, "Lacks valid authentication credentials for the requested resource!")
		return
	case err != nil:
		a.internalError(w, "verify credentials", err)
		return
	}
	a.issueSession(w, r, identity)
}

// refresh handles POST /users/token: a valid refresh cookie buys a new access token.
func (a *accountHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	identity, access, err := a.tokens.RefreshAccess(r.Context(), cookieValue(r, RefreshCookie))
	if err != nil {
		a.authError(w, err)
		return
	}
	a.setAccessCookie(w, access)
	writeJSONAPI(w, http.StatusCreated, identity.UID, userDocument{
		Data: resourceFor(identity, access),
		Meta: &tokenMeta{ExpiresInSec: int64(a.tokens.AccessTTL() / time.Second)},
	})
}

// logout handles DELETE /users/logout.
func (a *accountHandlers) logout(w http.ResponseWriter, r *http.Request) {
	err := a.tokens.RevokeRefresh(r.Context(), cookieValue(r, RefreshCookie))
	http.SetCookie(w, expiredCookie(RefreshCookie))
	http.SetCookie(w, expiredCookie(AccessCookie))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case auth.IsAuthError(err) || errors.Is(err, auth.ErrNoRefreshToken):
		writeAPIError(w, http.StatusNotFound, "No active session for this refresh token.")
	default:
		a.internalError(w, "revoke refresh token", err)
	}
}

// update handles PATCH /users/{id}. The caller's access token must belong to id.
func (a *accountHandlers) update(w http.ResponseWriter, r *http.Request) {
	identity, err := a.tokens.VerifyAccess(bearerToken(r))
	if err != nil {
		a.authError(w, err)
		return
	}
	id := r.PathValue("id")
	if identity.UID != id {
		writeAPIError(w, http.StatusForbidden, "You can only update your own account.")
		return
	}

	req, ok := a.decode(w, r, false)
	if !ok {
		return
	}
	attrs := req.Data.Attributes
	err = a.users.UpdateUser(r.Context(), id, users.Patch{
		NewName:     attrs.NewName,
		NewPassword: attrs.NewPassword,
		OldPassword: attrs.OldPassword,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, users.ErrEmptyPatch):
		writeAPIError(w, http.StatusBadRequest, "Lack of data to process. Please provide at least newName or newPassword, not empty fields!")
	case errors.Is(err, users.ErrWrongPassword):
		writeAPIError(w, http.StatusForbidden, "You have typed in wrong old password!")
	case errors.Is(err, users.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "User not found.")
	case errors.Is(err, users.ErrNameTaken):
		writeAPIError(w, http.StatusConflict, "User name is already taken!")
	default:
		a.internalError(w, "update user", err)
	}
}

func (a *accountHandlers) decode(w http.ResponseWriter, r *http.Request, requireType bool) (userRequest, bool) {
	var req userRequest
	if !isJSONAPI(r) {
		writeAPIError(w, http.StatusUnsupportedMediaType, "Content-Type must be "+jsonAPIContentType+".")
		return req, false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAccountBody)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "Request body must be a JSON:API document.")
		return req, false
	}
	if requireType && req.Data.Type != usersType {
		writeAPIError(w, http.StatusUnauthorized, "Lacks valid authentication credentials for the requested resource!")
		return req, false
	}
	return req, true
}

func (a *accountHandlers) issueSession(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	access, err := a.tokens.IssueAccess(identity)
	if err != nil {
		a.internalError(w, "issue access token", err)
		return
	}
	refresh, err := a.tokens.IssueOrRotateRefresh(r.Context(), identity)
	if err != nil {
		a.internalError(w, "issue refresh token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/",
		MaxAge:   int(a.tokens.RefreshTTL() / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	a.setAccessCookie(w, access)
	writeJSONAPI(w, http.StatusCreated, identity.UID, userDocument{Data: resourceFor(identity, access)})
}

func (a *accountHandlers) setAccessCookie(w http.ResponseWriter, access string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    access,
		Path:     "/",
		MaxAge:   int(a.tokens.AccessTTL() / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (a *accountHandlers) authError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissing):
		writeAPIError(w, http.StatusUnauthorized, "Lacks valid authentication credentials for the requested resource!")
	case auth.IsAuthError(err):
		writeAPIError(w, http.StatusForbidden, "Authentication credentials for the requested resource are not valid!")
	default:
		a.internalError(w, "verify token", err)
	}
}

func (a *accountHandlers) internalError(w http.ResponseWriter, op string, err error) {
	a.log.Error("account request failed", zap.String("op", op), zap.Error(err))
	writeAPIError(w, http.StatusInternalServerError, "Internal server error.")
}

func resourceFor(identity auth.Identity, access string) userResource {
	return userResource{
		Type:       usersType,
		ID:         identity.UID,
		Attributes: userAttributes{Name: identity.Name, Rights: identity.Rights},
		Token:      access,
	}
}

func writeJSONAPI(w http.ResponseWriter, status int, uid string, doc userDocument) {
	w.Header().Set("Content-Type", jsonAPIContentType)
	w.Header().Set("Location", "/users/"+uid)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

func writeAPIError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", jsonAPIContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorDocument{Errors: []apiError{{
		Status: strconv.Itoa(status),
		Title:  http.StatusText(status),
		Detail: detail,
	}}})
}

func isJSONAPI(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == jsonAPIContentType
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// bearerToken reads the Authorization bearer token, falling back to the access cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return cookieValue(r, AccessCookie)
}

func expiredCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
