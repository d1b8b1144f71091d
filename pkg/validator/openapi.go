package validator

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	apperrors "consensus-chat/client/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed chat_api.yaml
var chatAPISchema []byte

// ChatAPISchema returns the bundled OpenAPI document of the chat API
func ChatAPISchema() []byte {
	return chatAPISchema
}

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	swagger *openapi3.T
	router  routers.Router
	mutex   sync.RWMutex
}

// NewOpenAPIValidator creates a validator for the bundled chat API schema
func NewOpenAPIValidator() (*OpenAPIValidator, error) {
	return NewOpenAPIValidatorFromData(chatAPISchema)
}

// NewOpenAPIValidatorFromData creates a validator for a YAML or JSON document
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	swagger, router, err := loadOpenAPISchema(data)
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{swagger: swagger, router: router}, nil
}

func loadOpenAPISchema(data []byte) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}

	if err := swagger.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return swagger, router, nil
}

// ReloadSchema swaps in a new document
func (v *OpenAPIValidator) ReloadSchema(data []byte) error {
	swagger, router, err := loadOpenAPISchema(data)
	if err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.swagger = swagger
	v.router = router
	return nil
}

// Validate checks a request against its documented operation. Requests for
// routes the document does not describe pass.
func (v *OpenAPIValidator) Validate(c *gin.Context) error {
	v.mutex.RLock()
	router := v.router
	v.mutex.RUnlock()

	route, pathParams, err := router.FindRoute(c.Request)
	if err != nil {
		return nil
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    c.Request,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			MultiError:         false,
		},
	}
	return openapi3filter.ValidateRequest(contextOf(c), input)
}

// Middleware returns a Gin middleware that rejects requests violating the schema
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(c); err != nil {
			c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Request does not match the API schema").
				WithDetails(err.Error()))
			c.Abort()
			return
		}
		c.Next()
	}
}

func contextOf(c *gin.Context) context.Context {
	if c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}
