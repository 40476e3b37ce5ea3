package sandbox

import "os"

// defaultPath is used when the manager process itself has no PATH set
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// passthroughEnv lists the only inherited variables a guest process may see
var passthroughEnv = []string{"PATH", "LANG", "LC_ALL", "TZ"}

// GuestEnv builds the allow-listed environment for a guest process. Every
// ambient variable is stripped except locale, timezone and the interpreter
// search path; HOME points into the workspace so the guest cannot discover
// the real home directory.
func GuestEnv(workDir string) []string {
	env := make([]string, 0, len(passthroughEnv)+2)
	for _, key := range passthroughEnv {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			env = append(env, key+"="+value)
		}
	}

	if !hasKey(env, "PATH") {
		env = append(env, "PATH="+defaultPath)
	}

	env = append(env, "HOME="+workDir)
	env = append(env, "PYTHONIOENCODING=utf-8")
	return env
}

func hasKey(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
