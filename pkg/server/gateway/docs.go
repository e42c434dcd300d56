package gateway

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
)

const specPath = "/openapi.yaml"

var (
	//go:embed web/openapi.yaml
	openAPISpec []byte

	//go:embed web/docs.html
	docsPage string

	docsTemplate = template.Must(template.New("docs").Parse(docsPage))
)

func (s *Server) serveDocs(ctx echo.Context) error {
	data := struct {
		Title    string
		SpecPath string
	}{
		Title:    "qrgate API Documentation",
		SpecPath: specPath,
	}

	ctx.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	ctx.Response().WriteHeader(http.StatusOK)
	return docsTemplate.Execute(ctx.Response().Writer, data)
}

func (s *Server) serveSpec(ctx echo.Context) error {
	return ctx.Blob(http.StatusOK, "application/yaml", openAPISpec)
}
