// Package api exposes the auth core over HTTP with go-router.
package api

import (
	"strconv"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/ecofy/ecofy-auth/middleware/bearer"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// Controller wires the auth components to HTTP routes.
type Controller struct {
	Guard      *auth.Guard
	Auther     *auth.Auther
	Registrar  *auth.RegisterHandler
	Lifecycle  auth.StatusLifecycle
	Principals auth.Principals
	Logger     auth.Logger
	AuthScheme string
}

// NewServer returns a Fiber backed server whose app renders handler errors
// with the auth error handler.
func NewServer(logger auth.Logger) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			ErrorHandler:          auth.NewErrorHandler(logger),
			DisableStartupMessage: true,
			UnescapePath:          true,
		})
	})
	if logger != nil {
		srv.Router().WithLogger(logger)
	}
	return srv
}

// Register mounts every route on r.
func (h *Controller) Register(r router.Router[*fiber.App]) {
	protect := func(rule auth.Rule) router.MiddlewareFunc {
		return bearer.New(bearer.Config{
			Guard:        h.Guard,
			Rule:         rule,
			AuthScheme:   h.AuthScheme,
			ErrorHandler: auth.NewRouteErrorHandler(h.Logger),
		})
	}
	adminOnly := protect(auth.AdminOnly())
	authenticated := protect(auth.Authenticated())

	r.Post("/auth/register/user", h.RegisterUser).SetName("auth.register.user")
	r.Post("/auth/register/client-company", h.RegisterClientCompany).SetName("auth.register.client_company")
	r.Post("/auth/login", h.Login).SetName("auth.login")
	r.Get("/auth/me", h.Me, authenticated).SetName("auth.me")
	r.Put("/auth/password", h.ChangePassword, authenticated).SetName("auth.password")

	// Ownership rules need the route parameter, so they are evaluated in the handler.
	r.Get("/users/:id", h.GetUser, authenticated).SetName("users.get")
	r.Patch("/users/:id", h.UpdateUser, authenticated).SetName("users.update")

	r.Post("/organizations", h.RegisterOrganization, adminOnly).SetName("organizations.create")

	admin := r.Group("/admin")
	admin.Use(adminOnly)
	admin.Get("/:kind", h.ListPrincipals).SetName("admin.principals.list")
	admin.Post("/:kind/:id/status", h.RequestTransition).SetName("admin.principals.status")
	admin.Delete("/:kind/:id", h.DeletePrincipal).SetName("admin.principals.delete")
	admin.Put("/:kind/:id/role", h.ChangeRole).SetName("admin.principals.role")
}

func (h *Controller) RegisterUser(ctx router.Context) error {
	var req RegisterUserRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	principal, err := h.Registrar.RegisterUser(ctx.Context(), req.Message())
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusCreated, principal)
}

func (h *Controller) RegisterClientCompany(ctx router.Context) error {
	var req CompanyRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	principal, err := h.Registrar.RegisterClientCompany(ctx.Context(), req.ClientCompanyMessage())
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusCreated, principal)
}

func (h *Controller) RegisterOrganization(ctx router.Context) error {
	actor, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}

	var req CompanyRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	principal, err := h.Registrar.RegisterOrganization(ctx.Context(), actor, req.OrganizationMessage())
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusCreated, principal)
}

func (h *Controller) Login(ctx router.Context) error {
	var req LoginRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	result, err := h.Auther.Login(ctx.Context(), auth.PrincipalKind(req.Kind), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, result)
}

func (h *Controller) Me(ctx router.Context) error {
	principal, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, principal)
}

func (h *Controller) ChangePassword(ctx router.Context) error {
	principal, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}

	var req ChangePasswordRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	if err := h.Auther.ChangePassword(ctx.Context(), principal.Ref(), req.CurrentPassword, req.Password); err != nil {
		return err
	}
	return ctx.NoContent(router.StatusNoContent)
}

func (h *Controller) GetUser(ctx router.Context) error {
	principal, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err := h.Guard.Authorize(principal, auth.SelfOrAdmin(id)); err != nil {
		return err
	}

	user := &auth.User{}
	if err := h.Principals.LoadModel(ctx.Context(), auth.KindUser, id, user); err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, user)
}

func (h *Controller) UpdateUser(ctx router.Context) error {
	principal, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err := h.Guard.Authorize(principal, auth.SelfOrAdmin(id)); err != nil {
		return err
	}

	var req UpdateUserRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	stdCtx := ctx.Context()
	user := &auth.User{}
	if err := h.Principals.LoadModel(stdCtx, auth.KindUser, id, user); err != nil {
		return err
	}

	if columns := req.Apply(user); len(columns) > 0 {
		if err := h.Principals.UpdateProfile(stdCtx, auth.KindUser, user, columns...); err != nil {
			return err
		}
	}
	return ctx.JSON(router.StatusOK, user)
}

func (h *Controller) ListPrincipals(ctx router.Context) error {
	kind, err := paramKind(ctx)
	if err != nil {
		return err
	}

	principals, err := h.Auther.ListPrincipals(ctx.Context(), kind)
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, router.ViewContext{"data": principals, "count": len(principals)})
}

func (h *Controller) RequestTransition(ctx router.Context) error {
	actor, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	ref, err := paramRef(ctx)
	if err != nil {
		return err
	}

	var req StatusRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	principal, err := h.Lifecycle.RequestTransition(ctx.Context(), actor, ref, auth.Status(req.Status),
		auth.WithTransitionReason(req.Reason))
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, principal)
}

func (h *Controller) DeletePrincipal(ctx router.Context) error {
	actor, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	ref, err := paramRef(ctx)
	if err != nil {
		return err
	}

	if _, err := h.Lifecycle.Delete(ctx.Context(), actor, ref); err != nil {
		return err
	}
	return ctx.NoContent(router.StatusNoContent)
}

func (h *Controller) ChangeRole(ctx router.Context) error {
	actor, err := currentPrincipal(ctx)
	if err != nil {
		return err
	}
	ref, err := paramRef(ctx)
	if err != nil {
		return err
	}

	var req RoleRequest
	if err := bind(ctx, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	principal, err := h.Lifecycle.ChangeRole(ctx.Context(), actor, ref, auth.Role(req.Role))
	if err != nil {
		return err
	}
	return ctx.JSON(router.StatusOK, principal)
}

func bind(ctx router.Context, out any) error {
	if err := ctx.Bind(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func currentPrincipal(ctx router.Context) (*auth.Principal, error) {
	principal, ok := bearer.Principal(ctx)
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return principal, nil
}

func paramID(ctx router.Context) (int64, error) {
	raw := ctx.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, goerrors.New("id must be a positive integer", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"id": raw})
	}
	return id, nil
}

func paramKind(ctx router.Context) (auth.PrincipalKind, error) {
	kind, ok := auth.ParseKind(ctx.Param("kind"))
	if !ok {
		return "", goerrors.New("unknown principal kind", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"kind": ctx.Param("kind")})
	}
	return kind, nil
}

func paramRef(ctx router.Context) (auth.PrincipalRef, error) {
	kind, err := paramKind(ctx)
	if err != nil {
		return auth.PrincipalRef{}, err
	}
	id, err := paramID(ctx)
	if err != nil {
		return auth.PrincipalRef{}, err
	}
	return auth.PrincipalRef{Kind: kind, ID: id}, nil
}
