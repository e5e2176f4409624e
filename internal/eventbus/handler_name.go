package eventbus

import "runtime"

// runtimeFuncName resolves a function pointer to its fully-qualified name,
// used only for diagnostics (alert payloads, log fields).
func runtimeFuncName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}
