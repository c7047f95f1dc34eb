package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
)

const contextProfileKey = "profile"

// readyMiddleware only lets requests through once a principal and its profile are known.
func readyMiddleware(boot *session.Bootstrapper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			st := boot.State()
			if st.Status() != session.StatusReady {
				return errNotReady
			}
			ctx.Set(contextProfileKey, *st.Profile)
			return next(ctx)
		}
	}
}

// roleMiddleware requires one of roles on top of a ready session.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, ok := ctx.Get(contextProfileKey).(profile.Profile)
			if !ok {
				return errNotReady
			}
			for _, role := range roles {
				if p.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func getContextProfile(ctx echo.Context) profile.Profile {
	p, _ := ctx.Get(contextProfileKey).(profile.Profile)
	return p
}
