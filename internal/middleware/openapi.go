package middleware

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"go.uber.org/zap"
)

// OpenAPIValidatorMiddleware rejects requests that do not match the OpenAPI
// document with 400. Requests for routes the document does not describe pass
// through unchanged. Authentication is left to AuthMiddleware.
func OpenAPIValidatorMiddleware(doc *openapi3.T, logger *zap.Logger) (gin.HandlerFunc, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi router: %w", err)
	}

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			if err != routers.ErrPathNotFound && err != routers.ErrMethodNotAllowed {
				logger.Warn("openapi route lookup failed", zap.Error(err))
			}
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    options,
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			details := err.Error()
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{
				Code:    api.CodeValidation,
				Message: "Request does not match the API contract",
				Details: &details,
			})
			return
		}

		c.Next()
	}, nil
}
