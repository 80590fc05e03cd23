package session

import "time"

var _ Config = &ConfigObject{}

// ConfigObject is a plain value implementation of Config.
type ConfigObject struct {
	BaseURL             string
	LoginRoute          string
	LandingRoutes       map[UserRole]string
	DefaultLandingRoute string
	RequestTimeout      time.Duration
	JWKSEndpoint        string
}

func (c *ConfigObject) GetBaseURL() string {
	return c.BaseURL
}

func (c *ConfigObject) GetLoginRoute() string {
	if c.LoginRoute == "" {
		return "/login"
	}
	return c.LoginRoute
}

// GetLandingRoute maps a role to the view a freshly authenticated user
// should land on. Unknown roles fall back to the default landing route.
func (c *ConfigObject) GetLandingRoute(role UserRole) string {
	if route, ok := c.LandingRoutes[role]; ok && route != "" {
		return route
	}

	if c.DefaultLandingRoute != "" {
		return c.DefaultLandingRoute
	}

	return "/"
}

func (c *ConfigObject) GetRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}

func (c *ConfigObject) GetJWKSEndpoint() string {
	return c.JWKSEndpoint
}
