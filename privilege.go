package flowsniffer

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"permission", "not permitted", "access denied", "access is denied"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
