package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"buck3t-gateway/internal/auth"
	"buck3t-gateway/internal/model"
	"buck3t-gateway/internal/service"
)

// loginReply is sent to the browser after a successful login. The token
// itself only travels in the HttpOnly cookie.
type loginReply struct {
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// SessionHandler serves signup, login and logout.
type SessionHandler struct {
	service  *service.GatewayService
	bridge   *auth.Bridge
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(svc *service.GatewayService, bridge *auth.Bridge, logger *slog.Logger) *SessionHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &SessionHandler{
		service:  svc,
		bridge:   bridge,
		validate: v,
		logger:   logger.With("component", "session_handler"),
		now:      time.Now,
	}
}

// Signup forwards an account creation request and relays the backend reply.
func (h *SessionHandler) Signup(c echo.Context) error {
	var req service.SignupRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	resp, err := h.service.Signup(c.Request().Context(), req)
	if err != nil {
		return mapError(c, h.logger, model.OpSignup, err)
	}
	return translate(c, h.logger, model.OpSignup, resp)
}

// Login exchanges credentials for a token and stores it in the session cookie.
func (h *SessionHandler) Login(c echo.Context) error {
	var req service.LoginRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	now := h.now()
	res, resp, err := h.service.Login(c.Request().Context(), req, now)
	if err != nil {
		return mapError(c, h.logger, model.OpLogin, err)
	}
	if resp != nil {
		return translate(c, h.logger, model.OpLogin, resp)
	}

	c.SetCookie(h.bridge.SessionCookie(res.Credential, now))
	h.logger.Info("login succeeded", "expires_in", res.ExpiresIn)

	return c.JSON(http.StatusOK, loginReply{
		TokenType: res.TokenType,
		ExpiresIn: res.ExpiresIn,
	})
}

// Logout expires the session cookie. The backend is not contacted.
func (h *SessionHandler) Logout(c echo.Context) error {
	c.SetCookie(h.bridge.ExpiredCookie())
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHandler) bind(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

// validationMessage turns validator errors into a short client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fe.Field()+" is too long")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
