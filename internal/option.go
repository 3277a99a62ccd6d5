package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	writeBack bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithWriteAssets makes Scan write every loaded site asset back to disk
// after population.
func WithWriteAssets(enabled bool) Option {
	return func(a *application) {
		a.writeBack = enabled
	}
}
