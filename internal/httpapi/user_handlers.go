package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/user"
)

type signupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=8"`
}

type tokenRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type tokenResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	u := &user.User{Username: req.Username, CreatedAt: time.Now()}
	if err := u.SetPassword(req.Password); err != nil {
		logging.Error(c.Request.Context(), "failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	if err := s.users.Create(u); err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"message": "username already taken"})
			return
		}
		logging.Error(c.Request.Context(), "failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), u.ID)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, tokenResponse{Username: u.Username, AccessToken: sess.Token, TokenType: "bearer"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	u, err := s.users.GetByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	if !u.CheckPassword(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), u.ID)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{Username: u.Username, AccessToken: sess.Token, TokenType: "bearer"})
}

func (s *Server) handleLogout(c *gin.Context) {
	token, _ := c.Get("session_token")
	tok, _ := token.(string)
	if tok != "" {
		if err := s.sessions.Delete(c.Request.Context(), tok); err != nil {
			logging.Error(c.Request.Context(), "failed to delete session", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
