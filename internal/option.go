package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	files   []string
	mcp     bool
	version string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithFiles opens files on startup, after the previous session is restored.
func WithFiles(paths ...string) Option {
	return func(a *application) {
		a.files = append(a.files, paths...)
	}
}

// WithMCP serves the MCP tool surface on stdio instead of HTTP.
func WithMCP(enabled bool) Option {
	return func(a *application) {
		a.mcp = enabled
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
