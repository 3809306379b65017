package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/AnTengye/docchain/middleware"
	"github.com/AnTengye/docchain/model"
	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/AnTengye/docchain/service"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	msgFetchDocuments = "Failed to fetch documents"
	msgCreateDocument = "Failed to create document"
	msgFetchDetails   = "Failed to fetch document details"
	msgNotFound       = "Document not found"
	msgApprove        = "Failed to approve document"
	msgReject         = "Failed to reject document"
	msgFetchActivity  = "Failed to fetch activity"
)

type DocumentHandler struct {
	store *service.SessionStore
}

func NewDocumentHandler(store *service.SessionStore) *DocumentHandler {
	return &DocumentHandler{store: store}
}

// List renders the document list; ?new=1 opens the create form.
func (h *DocumentHandler) List(c *gin.Context) {
	h.renderList(c, http.StatusOK, gin.H{
		"ShowForm": c.Query("new") == "1",
		"Form":     model.CreateDocumentRequest{},
	})
}

func (h *DocumentHandler) renderList(c *gin.Context, status int, data gin.H) {
	ctx := c.Request.Context()

	docs, err := h.store.Client(c.Request).GetDocuments(ctx)
	if err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		logger.Error(ctx, "failed to fetch documents", "error", err)
		if _, set := data["Error"]; !set {
			data["Error"] = msgFetchDocuments
		}
		if status == http.StatusOK {
			status = statusFor(err)
		}
	}

	data["Documents"] = docs
	render(c, status, "documents.html", "Documents", data)
}

// Create handles the new document form. The list is re-fetched afterwards
// rather than patched locally.
func (h *DocumentHandler) Create(c *gin.Context) {
	var form model.CreateDocumentRequest
	if err := c.ShouldBind(&form); err != nil {
		h.renderList(c, http.StatusBadRequest, gin.H{
			"ShowForm":  true,
			"Form":      form,
			"FormError": "Invalid form submission",
		})
		return
	}
	if err := form.Validate(); err != nil {
		h.renderList(c, http.StatusUnprocessableEntity, gin.H{
			"ShowForm":  true,
			"Form":      form,
			"FormError": validationMessage(err),
		})
		return
	}

	// Once issued, the request completes even if the browser leaves.
	ctx := context.WithoutCancel(c.Request.Context())
	doc, err := h.store.Client(c.Request).CreateDocument(ctx, form)
	if err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		logger.Error(ctx, "failed to create document", "title", form.Title, "error", err)
		h.renderList(c, statusFor(err), gin.H{
			"ShowForm": true,
			"Form":     form,
			"Error":    msgCreateDocument,
		})
		return
	}
	if doc != nil {
		logger.Info(ctx, "document created", "document_id", doc.ID)
	}
	if browserGone(c) {
		return
	}

	c.Redirect(http.StatusSeeOther, middleware.HomePath)
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrTitleRequired):
		return "Title is required"
	case errors.Is(err, model.ErrContentRequired):
		return "Content is required"
	default:
		return err.Error()
	}
}

// Show renders one document with its history.
func (h *DocumentHandler) Show(c *gin.Context) {
	h.renderDetail(c, http.StatusOK, "")
}

// renderDetail fetches the document and its history concurrently and
// renders once both are in. The first failure decides the error shown.
func (h *DocumentHandler) renderDetail(c *gin.Context, status int, actionErr string) {
	id := c.Param("id")
	ctx := c.Request.Context()
	client := h.store.Client(c.Request)

	var (
		doc     *model.Document
		history []model.HistoryEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := client.GetDocument(gctx, id)
		doc = d
		return err
	})
	g.Go(func() error {
		entries, err := client.GetDocumentHistory(gctx, id)
		history = entries
		return err
	})

	if err := g.Wait(); err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		msg := msgFetchDetails
		if errors.Is(err, service.ErrNotFound) {
			msg = msgNotFound
		} else {
			logger.Error(ctx, "failed to fetch document details", "document_id", id, "error", err)
		}
		render(c, statusFor(err), "document.html", msg, gin.H{"Error": msg})
		return
	}
	if doc == nil {
		render(c, http.StatusNotFound, "document.html", msgNotFound, gin.H{"Error": msgNotFound})
		return
	}

	sess := middleware.GetSession(c)
	render(c, status, "document.html", doc.Title, gin.H{
		"Document": doc,
		"History":  history,
		"CanAct":   sess.Authenticated() && doc.Actionable(sess.User.Role),
		"Error":    actionErr,
	})
}

// Approve requests the approve transition.
func (h *DocumentHandler) Approve(c *gin.Context) {
	h.transition(c, model.ActionApprove, msgApprove, (*service.APIClient).ApproveDocument)
}

// Reject requests the reject transition.
func (h *DocumentHandler) Reject(c *gin.Context) {
	h.transition(c, model.ActionReject, msgReject, (*service.APIClient).RejectDocument)
}

type transitionFunc func(*service.APIClient, context.Context, string) (*model.Document, error)

// transition re-checks that the viewer may act on the current document
// before calling the API; the endpoint is never hit otherwise.
func (h *DocumentHandler) transition(c *gin.Context, action model.Action, failMsg string, do transitionFunc) {
	id := c.Param("id")
	ctx := c.Request.Context()
	client := h.store.Client(c.Request)
	sess := middleware.GetSession(c)

	doc, err := client.GetDocument(ctx, id)
	if err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		h.renderDetail(c, statusFor(err), failMsg)
		return
	}

	if !sess.Authenticated() || !doc.Actionable(sess.User.Role) {
		status := http.StatusConflict
		if !sess.Privileged() {
			status = http.StatusForbidden
		}
		logger.Warn(ctx, "transition not allowed",
			"action", action,
			"document_id", id,
			"privileged", sess.Privileged(),
		)
		h.renderDetail(c, status, failMsg)
		return
	}

	mctx := context.WithoutCancel(ctx)
	if _, err := do(client, mctx, id); err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		logger.Error(mctx, "document transition failed", "action", action, "document_id", id, "error", err)
		h.renderDetail(c, statusFor(err), failMsg)
		return
	}
	logger.Info(mctx, "document transitioned", "action", action, "document_id", id)
	if browserGone(c) {
		return
	}

	c.Redirect(http.StatusSeeOther, "/documents/"+url.PathEscape(id))
}

// Activity lists what the signed-in user has done.
func (h *DocumentHandler) Activity(c *gin.Context) {
	ctx := c.Request.Context()

	history, err := h.store.Client(c.Request).GetUserHistory(ctx)
	if err != nil {
		if sendToLogin(c, h.store, err) || browserGone(c) {
			return
		}
		logger.Error(ctx, "failed to fetch activity", "error", err)
		render(c, statusFor(err), "activity.html", "Activity", gin.H{"Error": msgFetchActivity})
		return
	}

	render(c, http.StatusOK, "activity.html", "Activity", gin.H{"History": history})
}
