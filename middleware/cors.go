package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type CORSConfig struct {
	// AllowedOrigins lists exact origins or "*." subdomain patterns such as
	// "https://*.example.org". Empty allows any origin without credentials.
	AllowedOrigins []string

	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string

	// MaxAge is the preflight cache lifetime in seconds
	MaxAge int
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete, fiber.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		MaxAge:           3600,
	}
}

// ParseOrigins splits a comma-separated ALLOWED_ORIGINS value.
func ParseOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

type originMatcher struct {
	exact    map[string]struct{}
	suffixes []originPattern
	any      bool
}

type originPattern struct {
	scheme string // "https://"
	suffix string // ".example.org"
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]struct{}), any: len(origins) == 0}
	for _, origin := range origins {
		origin = strings.ToLower(origin)
		if origin == "*" {
			m.any = true
			continue
		}
		if i := strings.Index(origin, "://*."); i >= 0 {
			m.suffixes = append(m.suffixes, originPattern{scheme: origin[:i+3], suffix: origin[i+4:]})
			continue
		}
		m.exact[origin] = struct{}{}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, p := range m.suffixes {
		host := strings.TrimPrefix(origin, p.scheme)
		if host != origin && strings.HasSuffix(host, p.suffix) && len(host) > len(p.suffix) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and sets the CORS headers for allowed
// origins. A wildcard configuration never sends credentials.
func CORS(config ...CORSConfig) fiber.Handler {
	cfg := DefaultCORSConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	matcher := newOriginMatcher(cfg.AllowedOrigins)
	credentials := cfg.AllowCredentials && !matcher.any
	allowedMethods := strings.Join(cfg.AllowedMethods, ",")
	allowedHeaders := strings.Join(cfg.AllowedHeaders, ",")
	exposedHeaders := strings.Join(cfg.ExposedHeaders, ",")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		c.Vary(fiber.HeaderOrigin)

		if origin == "" || !matcher.allows(origin) {
			if c.Method() == fiber.MethodOptions && origin != "" {
				return c.SendStatus(fiber.StatusForbidden)
			}
			return c.Next()
		}

		if matcher.any {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		} else {
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		}
		if credentials {
			c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
		}

		if c.Method() != fiber.MethodOptions {
			if exposedHeaders != "" {
				c.Set(fiber.HeaderAccessControlExposeHeaders, exposedHeaders)
			}
			return c.Next()
		}

		c.Set(fiber.HeaderAccessControlAllowMethods, allowedMethods)
		c.Set(fiber.HeaderAccessControlAllowHeaders, allowedHeaders)
		c.Set(fiber.HeaderAccessControlMaxAge, maxAge)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
