package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix starts every generated identity
const Prefix = "session_"

// NewID returns a correlation token tying a submission to its status stream.
// It is unique within the process with overwhelming probability and is not a
// secret.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d_%s", Prefix, time.Now().UnixMilli(), suffix)
}
