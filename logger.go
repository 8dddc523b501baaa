package arq

import (
	"fmt"

	"github.com/golang/glog"
)

// Logger receives diagnostics from clients and agents. Nothing is returned
// through it that the caller does not also get as an error, except for
// failures inside background loops.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// glogLogger writes through glog, attributing each line to its caller.
type glogLogger struct {
	depth int
}

func (l glogLogger) Infof(format string, args ...interface{}) {
	glog.InfoDepth(l.depth, fmt.Sprintf(format, args...))
}

func (l glogLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(l.depth, fmt.Sprintf(format, args...))
}

func (l glogLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(l.depth, fmt.Sprintf(format, args...))
}

func (l glogLogger) Fatalf(format string, args ...interface{}) {
	glog.FatalDepth(l.depth, fmt.Sprintf(format, args...))
}

// NopLogger drops everything but Fatalf, which still panics.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{})    {}
func (NopLogger) Warningf(string, ...interface{}) {}
func (NopLogger) Errorf(string, ...interface{})   {}

func (NopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
