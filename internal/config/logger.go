package config

import "go.uber.org/zap"

// NewLogger returns a development logger (console, debug level) when debug is
// set and a production JSON logger otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
