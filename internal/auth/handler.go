package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CookieName is the session cookie carrying the JWT.
const CookieName = "arena_session"

const (
	msgFieldsRequired = "All fields are required."
	msgBadUsername    = "Username can only contain underscore, letters or numbers."
	msgUsernameTaken  = "Username already exists."
	msgBadCredentials = "Invalid username or password."
	msgExpired        = "Session expired."
	msgInternal       = "Something went wrong, please try again."
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Handler serves /register, /login, /validate and /logout.
type Handler struct {
	Store  Store
	Tokens *Tokens
	// Secure marks the session cookie HTTPS-only.
	Secure bool
}

// Register mounts the routes; middleware applies to /register and /login only.
func (h *Handler) Register(r gin.IRouter, middleware ...gin.HandlerFunc) {
	r.POST("/register", append(middleware, h.register)...)
	r.POST("/login", append(middleware, h.login)...)
	r.GET("/validate", h.validate)
	r.GET("/logout", h.logout)
}

func (h *Handler) register(c *gin.Context) {
	var in credentials
	if err := c.ShouldBindJSON(&in); err != nil || in.Username == "" || in.Password == "" {
		fail(c, http.StatusOK, msgFieldsRequired)
		return
	}
	if !ValidUsername(in.Username) {
		fail(c, http.StatusOK, msgBadUsername)
		return
	}

	err := h.Store.CreateAccount(c.Request.Context(), in.Username, in.Password)
	if errors.Is(err, ErrAccountExists) {
		fail(c, http.StatusOK, msgUsernameTaken)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("username", in.Username).Msg("register failed")
		fail(c, http.StatusInternalServerError, msgInternal)
		return
	}
	log.Info().Str("username", in.Username).Msg("account created")
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "message": "User registered successfully"})
}

func (h *Handler) login(c *gin.Context) {
	var in credentials
	if err := c.ShouldBindJSON(&in); err != nil || in.Username == "" || in.Password == "" {
		fail(c, http.StatusOK, msgFieldsRequired)
		return
	}

	ok, err := h.Store.VerifyCredentials(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		log.Error().Err(err).Str("username", in.Username).Msg("login failed")
		fail(c, http.StatusInternalServerError, msgInternal)
		return
	}
	if !ok {
		fail(c, http.StatusOK, msgBadCredentials)
		return
	}

	token, ok := h.issue(c, in.Username)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token, "user": gin.H{"username": in.Username}})
}

// validate answers the logged-in user and rolls the session forward.
func (h *Handler) validate(c *gin.Context) {
	username, err := h.Tokens.Parse(TokenFromRequest(c.Request))
	if err != nil {
		fail(c, http.StatusOK, msgExpired)
		return
	}
	if _, ok := h.issue(c, username); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": gin.H{"username": username}})
}

func (h *Handler) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", h.Secure, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) issue(c *gin.Context, username string) (string, bool) {
	token, err := h.Tokens.Issue(username)
	if err != nil {
		log.Error().Err(err).Msg("sign token")
		fail(c, http.StatusInternalServerError, msgInternal)
		return "", false
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(h.Tokens.TTL.Seconds()), "/", "", h.Secure, true)
	return token, true
}

// TokenFromRequest reads the session token from the cookie, a bearer header
// or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "error": msg})
}
