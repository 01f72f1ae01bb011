package handlers

import (
	"errors"
	"net/http"
	"strings"

	"powercal/internal/models"
	"powercal/internal/service"

	"github.com/gin-gonic/gin"
)

// operatorKey holds the authenticated models.Identity in the gin context.
const operatorKey = "operator"

var (
	errMissingBearer   = errors.New("missing bearer token")
	errMalformedBearer = errors.New("authorization header must be 'Bearer <token>'")
)

const errInvalidToken = "invalid or expired token"

// requireOperator authenticates the bearer token. The operator is attached
// to the gin context and to the request context, where services read it.
func (h *Handler) requireOperator(c *gin.Context) {
	token, err := bearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	op, err := h.services.ParseToken(token)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_token_rejected", "path", c.FullPath(), "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidToken})
		return
	}

	c.Set(operatorKey, op)
	c.Request = c.Request.WithContext(service.WithOperator(c.Request.Context(), op))
	c.Next()
}

// bearerToken extracts the token of an RFC 6750 Authorization header. The
// scheme is case-insensitive.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errMalformedBearer
	}
	return token, nil
}

func currentOperator(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(operatorKey)
	if !ok {
		return models.Identity{}, false
	}
	op, ok := v.(models.Identity)
	return op, ok
}
