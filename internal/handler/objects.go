package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"buck3t-gateway/internal/auth"
	"buck3t-gateway/internal/keycodec"
	"buck3t-gateway/internal/model"
	"buck3t-gateway/internal/service"
)

// objectsPrefix is the inbound path prefix in front of an object key.
const objectsPrefix = "/api/objects/"

// ObjectsHandler serves the object collection and keyed object routes.
type ObjectsHandler struct {
	service *service.GatewayService
	bridge  *auth.Bridge
	logger  *slog.Logger
}

// NewObjectsHandler creates an ObjectsHandler.
func NewObjectsHandler(svc *service.GatewayService, bridge *auth.Bridge, logger *slog.Logger) *ObjectsHandler {
	return &ObjectsHandler{
		service: svc,
		bridge:  bridge,
		logger:  logger.With("component", "objects_handler"),
	}
}

// List proxies GET /api/objects.
func (h *ObjectsHandler) List(c echo.Context) error { return h.serve(c, model.OpList) }

// Get proxies GET /api/objects/{key}.
func (h *ObjectsHandler) Get(c echo.Context) error { return h.serve(c, model.OpGet) }

// Head proxies HEAD /api/objects/{key}.
func (h *ObjectsHandler) Head(c echo.Context) error { return h.serve(c, model.OpHead) }

// Put proxies PUT /api/objects/{key}.
func (h *ObjectsHandler) Put(c echo.Context) error { return h.serve(c, model.OpPut) }

// Delete proxies DELETE /api/objects/{key}.
func (h *ObjectsHandler) Delete(c echo.Context) error { return h.serve(c, model.OpDelete) }

// serve runs one request through parse, authorize, dispatch and translate.
// There is a single upstream attempt per call.
func (h *ObjectsHandler) serve(c echo.Context, op model.Operation) error {
	req := c.Request()

	pr, err := h.parse(req, op)
	if err != nil {
		return mapError(c, h.logger, op, err)
	}

	if cred, ok := h.bridge.Extract(req); ok {
		pr.Cred = cred
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return mapError(c, h.logger, op, err)
	}

	return translate(c, h.logger, op, resp)
}

func (h *ObjectsHandler) parse(req *http.Request, op model.Operation) (*model.ProxyRequest, error) {
	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Op:     op,
		Header: req.Header,
	}

	if op == model.OpList {
		pr.Path = service.PathObjects
		pr.Query = lastValues(req.URL.Query())
		return pr, nil
	}

	// An empty key is forwarded as-is; the backend decides what "objects/" means.
	key, ok := strings.CutPrefix(req.URL.Path, objectsPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: path %q outside %s", keycodec.ErrInvalidKey, req.URL.Path, objectsPrefix)
	}
	encoded, err := keycodec.Encode(key)
	if err != nil {
		return nil, err
	}
	pr.Path = service.ObjectPath(encoded)

	if op == model.OpPut {
		pr.Body = req.Body
		pr.BodyBytes = req.ContentLength
	}
	return pr, nil
}

// lastValues keeps the last value of every repeated query parameter.
func lastValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			out.Set(k, vals[len(vals)-1])
		}
	}
	return out
}
