package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
)

type sessionApi struct {
	boot       *session.Bootstrapper
	watchdog   *session.Watchdog
	validate   *validator.Validate
	translator ut.Translator
}

type (
	sessionResponse struct {
		Status        session.Status      `json:"status"`
		Loading       bool                `json:"loading"`
		Stalled       bool                `json:"stalled"`
		Authenticated bool                `json:"authenticated"`
		User          *identity.Principal `json:"user"`
		Profile       *profile.Profile    `json:"profile"`
	}

	authResponse struct {
		User                 *identity.Principal `json:"user"`
		ConfirmationRequired bool                `json:"confirmation_required"`
	}

	signUpData struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}

	menuResponse struct {
		Role     string             `json:"role"`
		RoleName string             `json:"role_name"`
		Items    []profile.MenuItem `json:"items"`
	}

	roleResponse struct {
		Role     string             `json:"role"`
		RoleName string             `json:"role_name"`
		Priority int                `json:"priority"`
		Items    []profile.MenuItem `json:"items"`
	}
)

func registerSessionAPI(g *echo.Group, deps Deps) {
	api := sessionApi{
		boot:       deps.Session,
		watchdog:   deps.Watchdog,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	sg := g.Group("/session")
	sg.GET("", api.retrieve)
	sg.POST("/signin", api.signIn)
	sg.POST("/signup", api.signUp)
	sg.POST("/signout", api.signOut)
	sg.POST("/force-login", api.forceLogin)

	// ready endpoints
	ready := readyMiddleware(api.boot)
	g.GET("/menu", api.menu, ready)
	g.GET("/roles", api.roles, ready, roleMiddleware(profile.RoleAdmin))
}

func (api *sessionApi) response(st session.State) sessionResponse {
	var stalled bool
	if api.watchdog != nil {
		stalled = api.watchdog.Stalled()
	}
	return sessionResponse{
		Status:        st.Status(),
		Loading:       st.Loading,
		Stalled:       stalled,
		Authenticated: st.Authenticated(),
		User:          st.User,
		Profile:       st.Profile,
	}
}

// Handlers

func (api *sessionApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.response(api.boot.State()))
}

func (api *sessionApi) signIn(ctx echo.Context) error {
	var creds identity.Credentials
	if err := ctx.Bind(&creds); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	if err := api.validate.Struct(creds); err != nil {
		return err
	}

	resp, err := api.boot.SignIn(ctx.Request().Context(), creds.Email, creds.Password)
	if err != nil {
		return errors.Wrap(err, "signing in")
	}
	return ctx.JSON(http.StatusOK, authResponse{User: resp.User})
}

func (api *sessionApi) signUp(ctx echo.Context) error {
	var data signUpData
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to signUpData")
	}

	resp, err := api.boot.SignUp(ctx.Request().Context(), data.Email, data.Password, data.FullName, data.Role)
	if err != nil {
		return errors.Wrap(err, "signing up")
	}
	return ctx.JSON(http.StatusCreated, authResponse{User: resp.User, ConfirmationRequired: resp.Session == nil})
}

func (api *sessionApi) signOut(ctx echo.Context) error {
	if err := api.boot.SignOut(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "signing out")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) forceLogin(ctx echo.Context) error {
	api.boot.ForceLogin()
	return ctx.JSON(http.StatusOK, api.response(api.boot.State()))
}

func (api *sessionApi) menu(ctx echo.Context) error {
	p := getContextProfile(ctx)
	return ctx.JSON(http.StatusOK, menuResponse{
		Role:     p.Role,
		RoleName: profile.RoleName(p.Role),
		Items:    profile.MenuFor(p.Role),
	})
}

func (api *sessionApi) roles(ctx echo.Context) error {
	roles := make([]roleResponse, 0, len(profile.AllRoles))
	for _, role := range profile.AllRoles {
		roles = append(roles, roleResponse{
			Role:     role,
			RoleName: profile.RoleName(role),
			Priority: profile.RolePriority(role),
			Items:    profile.MenuFor(role),
		})
	}
	return ctx.JSON(http.StatusOK, roles)
}
