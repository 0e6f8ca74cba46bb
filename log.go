package pinnedsync

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(logout).
		With().Timestamp().Logger().
		Level(zerolog.WarnLevel)
	logger.Store(&l)
}

// Logger returns the logger used for lock warnings.
func Logger() *zerolog.Logger {
	return logger.Load()
}

// SetLogger replaces the logger used for lock warnings.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}
