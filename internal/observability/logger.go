package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the process logger with the application name.
func InitLogger(app string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// RedactArgs returns a copy of args safe to log for method. PLAINAUTH
// carries the site secret as its second argument.
func RedactArgs(method string, args []string) []string {
	out := append([]string(nil), args...)
	if method == "PLAINAUTH" && len(out) > 1 {
		for i := 1; i < len(out); i++ {
			out[i] = "***"
		}
	}
	return out
}
