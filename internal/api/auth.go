package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/duelhub/internal/auth"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, &req) {
		return
	}

	s, err := a.flow.Login(c.Request.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSession(s))
}

type VerifyRequest struct {
	Code string `json:"code"`
}

func (a *API) Verify(c *gin.Context) {
	var req VerifyRequest
	if !bind(c, &req) {
		return
	}

	s, err := a.flow.Verify(c.Request.Context(), auth.VerifyRequest{
		SessionID: c.Param("id"),
		Code:      req.Code,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSession(s))
}

func (a *API) ResumeSession(c *gin.Context) {
	s, err := a.flow.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSession(s))
}

func (a *API) Logout(c *gin.Context) {
	if err := a.flow.Logout(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) ListUsers(c *gin.Context) {
	users, err := a.admin.ListUsers(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]User, 0, len(users))
	for _, u := range users {
		resp = append(resp, newUser(u))
	}

	c.JSON(http.StatusOK, gin.H{"users": resp})
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !bind(c, &req) {
		return
	}

	u, err := a.admin.CreateUser(c.Request.Context(), auth.CreateUserRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newUser(*u))
}

type ResetPasswordRequest struct {
	Password string `json:"password"`
}

func (a *API) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !bind(c, &req) {
		return
	}

	err := a.admin.ResetPassword(c.Request.Context(), auth.ResetPasswordRequest{
		UserID:   c.Param("id"),
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) DeleteUser(c *gin.Context) {
	err := a.admin.DeleteUser(c.Request.Context(), auth.DeleteUserRequest{
		ActorID: currentUser(c).ID,
		UserID:  c.Param("id"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) ResetMFA(c *gin.Context) {
	n, err := a.admin.ResetMFA(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted_factors": n})
}
