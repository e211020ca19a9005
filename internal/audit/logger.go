// Package audit emits structured audit events for authentication actions.
// Events go through the global zerolog output; a separate destination can be
// configured by redirecting the audit logger.
package audit

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

var auditLogger = log.Output(os.Stdout).With().Str("log", "audit").Logger()

// Log records one audit event. user is the local user id where known, the
// claimed external uid otherwise.
func Log(action, user, clientID string, success bool, err error) {
	evt := auditLogger.Info()
	if !success {
		evt = auditLogger.Warn()
	}
	evt = evt.
		Time("at", time.Now().UTC()).
		Str("action", action).
		Str("user", user).
		Bool("success", success)
	if clientID != "" {
		evt = evt.Str("client_id", clientID)
	}
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("audit event")
}
