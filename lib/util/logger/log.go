// Package logger provides one shared go-i2p/logger instance for packages
// outside lib/tunnel that need to log consistently with it (e.g. cmd/).
package logger

import "github.com/go-i2p/logger"

var log = logger.GetGoI2PLogger()

// Log returns the shared logger instance.
func Log() *logger.Logger { return log }
