package handlers

import (
	"errors"
	"net/http"

	"powercal/internal/service"

	"github.com/gin-gonic/gin"
)

const errCommandFailed = "command failed"

// CommandRequest is the payload of POST /api/v1/commands.
type CommandRequest struct {
	// Command line, e.g. "tasmota1 var1 230.5", "sub tele/#", "show sub"
	Command string `json:"command" binding:"required" example:"tasmota1 power on"`
}

// @Summary      Suggest completion
// @Description  Completes the first token to a category, or the second token to one of the category's actions.
// @Tags         console
// @Produce      json
// @Param        text  query     string  false  "Current input"  example(tasmota1 po)
// @Success      200   {object}  map[string]interface{}  "suggestion, found"
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/suggest [get]
// @Security     BearerAuth
func (h *Handler) suggest(c *gin.Context) {
	s, ok := h.services.Suggest(c.Query("text"))
	c.JSON(http.StatusOK, gin.H{
		"suggestion": s,
		"found":      ok,
	})
}

// @Summary      Cycle actions
// @Description  Moves the action of the current input to the next or previous one, wrapping around.
// @Tags         console
// @Produce      json
// @Param        text  query     string  false  "Current input"  example(tasmota1 power)
// @Param        dir   query     string  false  "Direction"  Enums(next,prev)
// @Success      200   {object}  map[string]string  "text"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/navigate [get]
// @Security     BearerAuth
func (h *Handler) navigate(c *gin.Context) {
	dir, err := service.ParseDirection(c.Query("dir"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": h.services.Navigate(c.Query("text"), dir)})
}

// @Summary      Submit command
// @Description  exit, sub <topic>, unsub <topic>, show sub, or [cmnd] <device|name|topic> <action> [payload]
// @Tags         console
// @Accept       json
// @Produce      json
// @Param        body  body      CommandRequest  true  "Command line"
// @Success      200   {object}  service.CommandResult
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/commands [post]
// @Security     BearerAuth
func (h *Handler) submitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	res, err := h.services.Submit(c.Request.Context(), req.Command)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, service.ErrUnknownCommand), errors.Is(err, service.ErrMissingArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotSubscribed):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrExitRequested):
		c.JSON(http.StatusAccepted, res)
	default:
		h.logAndJSONError(c, http.StatusBadGateway, errCommandFailed, "command_failed", err, "command", req.Command)
	}
}

// @Summary      List ad-hoc subscriptions
// @Tags         console
// @Produce      json
// @Success      200  {object}  map[string][]string  "subscriptions"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/subscriptions [get]
// @Security     BearerAuth
func (h *Handler) listSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subscriptions": h.services.AdHocTopics()})
}
