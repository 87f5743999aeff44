package gorm

import (
	"fmt"
	"strings"
	"time"

	gorm_logger "gorm.io/gorm/logger"

	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// NewGormLogger creates a gorm logger writing through the batch logger.
// Unknown or empty levels are silent.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch config.LogLevel(strings.ToUpper(level)) {
	case config.LogLevelError:
		gormLevel = gorm_logger.Error
	case config.LogLevelWarn:
		gormLevel = gorm_logger.Warn
	case config.LogLevelInfo, config.LogLevelDebug:
		gormLevel = gorm_logger.Info
	default:
		gormLevel = gorm_logger.Silent
	}
	return gorm_logger.New(GormWriter{}, gorm_logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// GormWriter redirects gorm output to the batch logger. SQL traces go to DEBUG.
type GormWriter struct{}

// Printf implements gorm_logger.Writer.
func (GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isSQLTrace(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Infof("[GORM] %s", msg)
}

func isSQLTrace(msg string) bool {
	if !strings.Contains(msg, "[") || !strings.Contains(msg, "]") {
		return false
	}
	for _, kw := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
