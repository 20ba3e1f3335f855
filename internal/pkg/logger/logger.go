package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger: JSON production output everywhere except
// local development, which gets the human-readable console encoder.
func New(env string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if env == "development" || env == "local" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l
}

// ForOwner scopes a logger to one principal's notification session.
func ForOwner(l *zap.Logger, ownerID string) *zap.Logger {
	if ownerID == "" {
		return l
	}
	return l.With(zap.String("owner_id", ownerID))
}
