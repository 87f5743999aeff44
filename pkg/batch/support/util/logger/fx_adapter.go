package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes Fx lifecycle events into this package's logger.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter returns the adapter as an fxevent.Logger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("OnStart hook failed: %s, error: %v", trimFuncSuffix(e.FunctionName), e.Err)
			return
		}
		Debugf("OnStart hook executed: %s (%s)", trimFuncSuffix(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("OnStop hook failed: %s, error: %v", trimFuncSuffix(e.FunctionName), e.Err)
			return
		}
		Debugf("OnStop hook executed: %s (%s)", trimFuncSuffix(e.FunctionName), e.Runtime)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("Provide failed: %s, error: %v", e.ConstructorName, e.Err)
			return
		}
		for _, name := range e.OutputTypeNames {
			Debugf("Provided: %s", name)
		}
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("Supply failed: %s, error: %v", e.TypeName, e.Err)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("Invoke failed: %s, error: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Stopping:
		Infof("Received %s, stopping.", strings.ToUpper(e.Signal.String()))
	case *fxevent.RollingBack:
		Errorf("Start failed, rolling back: %v", e.StartErr)
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("Start failed: %v", e.Err)
			return
		}
		Infof("Application started.")
	}
}

// trimFuncSuffix drops the ".funcN" suffix Fx reports for closures.
func trimFuncSuffix(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
