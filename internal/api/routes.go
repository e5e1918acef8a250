package api

import (
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/gzhole/replyshield/internal/guardrail"
)

// OpenAPIPath serves the generated OpenAPI document.
const OpenAPIPath = "/api/v1/openapi.json"

func RegisterRoutes(container *restful.Container, handler *Handler) {
	ws := new(restful.WebService)

	ws.
		Path("/api/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.
		Route(ws.GET("health").
			To(handler.Health).
			Doc("Health check").
			Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
			Writes(HealthResponse{}).
			Returns(200, "OK", HealthResponse{}))

	ws.
		Route(ws.POST("/guardrails/check").
			To(handler.Check).
			Doc("Check a model reply before it reaches the customer").
			Metadata(restfulspec.KeyOpenAPITags, []string{"guardrails"}).
			Reads(CheckRequest{}).
			Writes(guardrail.Result{}).
			Returns(200, "OK", guardrail.Result{}).
			Returns(400, "Bad Request", ErrorResponse{}).
			Returns(500, "Internal Server Error", ErrorResponse{}))

	container.Add(ws)
}

// NewContainer builds the container with filters, routes and the OpenAPI
// service.
func NewContainer(handler *Handler, logger *zerolog.Logger) *restful.Container {
	container := restful.NewContainer()
	container.Filter(RequestLogger(logger))
	container.Filter(RecoverPanic(logger))

	RegisterRoutes(container, handler)

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       OpenAPIPath,
		PostBuildSwaggerObjectHandler: enrichSwaggerObject(handler.version),
	}))
	return container
}

// NewServerHandler wraps the container with CORS. An empty origin list
// allows every origin.
func NewServerHandler(container *restful.Container, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(container)
}

func enrichSwaggerObject(version string) restfulspec.PostBuildSwaggerObjectFunc {
	return func(swo *spec.Swagger) {
		swo.Info = &spec.Info{
			InfoProps: spec.InfoProps{
				Title:       "ReplyShield API",
				Description: "Outbound guardrails for customer-service model replies",
				Version:     version,
			},
		}
		swo.Tags = []spec.Tag{
			{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
			{TagProps: spec.TagProps{Name: "guardrails", Description: "Reply checks"}},
		}
	}
}
