package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callSiteHook points entry.Caller at the first frame outside logrus and
// this package. Every call passes through the Entry wrappers, so the frame
// logrus picks on its own is always one of ours.
type callSiteHook struct {
	skip []string
}

func newCallSiteHook() *callSiteHook {
	self := packagePath(runtime.FuncForPC(reflect.ValueOf(newCallSiteHook).Pointer()).Name())
	return &callSiteHook{skip: []string{"github.com/sirupsen/logrus.", self + "."}}
}

func (h *callSiteHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *callSiteHook) Fire(entry *logrus.Entry) error {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !h.internal(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func (h *callSiteHook) internal(fn string) bool {
	for _, prefix := range h.skip {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}

// packagePath strips the symbol from a qualified function name,
// e.g. "quoteflow/logger.(*Entry).Info" -> "quoteflow/logger".
func packagePath(fn string) string {
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot >= 0 {
		return fn[:slash+1+dot]
	}
	return fn
}
