package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names a .env file that takes precedence over the --env flag
const EnvFileVar = "INK_ENV_FILE"

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(flags *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if flags == nil {
		flags = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := flags.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Load loads the first available file out of INK_ENV_FILE, the --env value
// and the default path, and returns the one it used. Variables already set in
// the process environment win over file values. A missing default file is not
// an error and yields an empty path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	if custom := strings.TrimSpace(os.Getenv(EnvFileVar)); custom != "" {
		if err := godotenv.Load(custom); err != nil {
			return "", fmt.Errorf("failed to load %s=%s: %w", EnvFileVar, custom, err)
		}
		return custom, nil
	}

	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}

	err := godotenv.Load(requested)
	switch {
	case err == nil:
		return requested, nil
	case errors.Is(err, fs.ErrNotExist) && requested == l.defaultPath:
		return "", nil
	default:
		return "", fmt.Errorf("failed to load env file from %s: %w", requested, err)
	}
}
