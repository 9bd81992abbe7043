// Package gateway is the HTTP edge. Every route turns into exactly one command
// sent to the owning service.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 10 << 20

// Invoker sends one command to a fixed service. *rpc.Stub satisfies it
type Invoker interface {
	Invoke(ctx context.Context, command string, payload, out any) error
}

type Gateway struct {
	users         Invoker
	feed          Invoker
	communication Invoker
	logger        *slog.Logger
}

// New creates a gateway forwarding requests to the three service invokers
func New(users, feed, communication Invoker, logger *slog.Logger) *Gateway {
	return &Gateway{users: users, feed: feed, communication: communication, logger: logger}
}

// Handler builds the gin engine with every route
func (g *Gateway) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(g.logger))
	r.MaxMultipartMemory = maxUploadBytes

	r.POST("/auth/login", g.login)
	r.POST("/users", g.createUser)

	auth := r.Group("/", g.authenticate())
	auth.POST("/auth/logout", g.logout)
	auth.GET("/users/me", g.me)
	auth.GET("/users/:id", g.getUser)
	auth.PATCH("/users/me", g.updateMe)
	auth.DELETE("/users/me", g.deleteMe)
	auth.POST("/posts", g.createPost)
	auth.GET("/feed", g.newsFeed)
	auth.POST("/messages", g.createMessage)
	auth.GET("/conversations/:peerId", g.conversation)
	auth.POST("/attachments", g.uploadAttachment)

	return r
}

// call forwards one command and writes the reply, or the mapped error
func call(c *gin.Context, target Invoker, command string, payload any, out any, status int) {
	if err := target.Invoke(c.Request.Context(), command, payload, out); err != nil {
		failFrom(c, err)
		return
	}
	respond(c, status, out)
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

func (g *Gateway) login(c *gin.Context) {
	var req models.LoginAuthRequest
	if !bind(c, &req) {
		return
	}
	call(c, g.users, models.LoginAuthCommand, req, &models.LoginAuthResponse{}, http.StatusOK)
}

func (g *Gateway) logout(c *gin.Context) {
	req := models.LogoutAuthRequest{
		TokenID:   c.GetString(ctxTokenID),
		ExpiresAt: c.GetTime(ctxExpiresAt),
	}
	if err := g.users.Invoke(c.Request.Context(), models.LogoutAuthCommand, req, nil); err != nil {
		failFrom(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) createUser(c *gin.Context) {
	var req models.CreateUserRequest
	if !bind(c, &req) {
		return
	}
	call(c, g.users, models.CreateUserCommand, req, &models.UserView{}, http.StatusCreated)
}

func (g *Gateway) me(c *gin.Context) {
	call(c, g.users, models.GetByIdUserCommand, models.GetByIdUserRequest{ID: c.GetString(ctxUserID)}, &models.UserView{}, http.StatusOK)
}

func (g *Gateway) getUser(c *gin.Context) {
	call(c, g.users, models.GetByIdUserCommand, models.GetByIdUserRequest{ID: c.Param("id")}, &models.UserView{}, http.StatusOK)
}

func (g *Gateway) updateMe(c *gin.Context) {
	var req models.UpdateUserRequest
	if !bind(c, &req) {
		return
	}
	req.ID = c.GetString(ctxUserID)
	call(c, g.users, models.UpdateUserCommand, req, &models.UserView{}, http.StatusOK)
}

func (g *Gateway) deleteMe(c *gin.Context) {
	if err := g.users.Invoke(c.Request.Context(), models.DeleteUserCommand, models.DeleteUserRequest{ID: c.GetString(ctxUserID)}, nil); err != nil {
		failFrom(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) createPost(c *gin.Context) {
	var req models.CreatePostRequest
	if !bind(c, &req) {
		return
	}
	req.AuthorID = c.GetString(ctxUserID)
	call(c, g.feed, models.CreatePostCommand, req, &models.PostView{}, http.StatusCreated)
}

func (g *Gateway) newsFeed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	call(c, g.feed, models.GetAllNewsFeedCommand, models.GetAllNewsFeedRequest{Limit: limit, Offset: offset}, &models.GetAllNewsFeedResponse{}, http.StatusOK)
}

func (g *Gateway) createMessage(c *gin.Context) {
	var req models.CreateMessageRequest
	if !bind(c, &req) {
		return
	}
	req.SenderID = c.GetString(ctxUserID)
	call(c, g.communication, models.CreateMessageCommand, req, &models.MessageView{}, http.StatusCreated)
}

func (g *Gateway) conversation(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	req := models.GetConversationRequest{UserID: c.GetString(ctxUserID), PeerID: c.Param("peerId"), Limit: limit}
	call(c, g.communication, models.GetConversationCommand, req, &models.GetConversationResponse{}, http.StatusOK)
}

func (g *Gateway) uploadAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "multipart field 'file' is required")
		return
	}
	if fh.Size > maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "file exceeds the upload limit")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	req := models.UploadAttachmentFileRequest{
		UploaderID:  c.GetString(ctxUserID),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	call(c, g.communication, models.UploadAttachmentFileCommand, req, &models.AttachmentView{}, http.StatusCreated)
}

// Serve runs the HTTP server until ctx is canceled
func (g *Gateway) Serve(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	g.logger.Info("Gateway listening", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
