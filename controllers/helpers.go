package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"donation-service/apperrors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var invalidFieldMessages = map[string]string{
	"amount":    "Invalid amount",
	"currency":  "Invalid currency",
	"email":     "Invalid email",
	"recurring": "Invalid recurring flag",
}

// bindError turns a JSON decoding failure into a validation error naming the
// offending field where the decoder reports one.
func bindError(err error) *apperrors.Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if msg, ok := invalidFieldMessages[typeErr.Field]; ok {
			return apperrors.Validation(typeErr.Field, msg)
		}
	}
	return apperrors.Validation("body", "Invalid request body")
}

// respondError writes err as {"error": ...}. Processor and internal failures
// are logged in full and masked in production.
func respondError(ctx *gin.Context, logger *zap.Logger, production bool, err error) {
	appErr := apperrors.Wrap(err, "Server error")

	if appErr.Code >= http.StatusInternalServerError || appErr.Kind == apperrors.KindProcessor {
		logger.Error("Request failed",
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", ctx.FullPath()),
			zap.String("request_id", ctx.GetString("request_id")),
			zap.Error(err),
		)
	}

	body := gin.H{"error": appErr.PublicMessage(production)}
	if appErr.Field != "" {
		body["field"] = appErr.Field
	}
	ctx.JSON(appErr.Code, body)
}
