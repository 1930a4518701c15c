package ftpd

import (
	"fmt"

	"github.com/rs/zerolog"
	ftpserver "goftp.io/server/v2"

	"github.com/nainya/vaultfs/internal/logger"
	"github.com/nainya/vaultfs/internal/vfs"
)

// greeting matches the original implementation's
// `.greeting("x79db server")` call in src/cli.rs, renamed for this
// build.
const greeting = "vaultfs server"

// passivePortRange is the inclusive port range advertised for passive
// mode data connections, per spec.md §6.
const passivePortRange = "50000-65535"

// zeroLogAdapter satisfies goftp.io/server/v2's logging interface by
// forwarding to the given zerolog.Logger, matching the rest of
// vaultfs's structured-logging convention instead of the library's
// default stdlib logger.
type zeroLogAdapter struct {
	log zerolog.Logger
}

func (z zeroLogAdapter) Print(sessionID string, message any) {
	z.log.Info().Str("session", sessionID).Interface("msg", message).Msg("ftp")
}

func (z zeroLogAdapter) Printf(sessionID string, format string, v ...any) {
	z.log.Info().Str("session", sessionID).Msg(fmt.Sprintf(format, v...))
}

func (z zeroLogAdapter) PrintCommand(sessionID string, command string, params string) {
	z.log.Debug().Str("session", sessionID).Str("command", command).Str("params", params).Msg("ftp command")
}

func (z zeroLogAdapter) PrintResponse(sessionID string, code int, message string) {
	z.log.Debug().Str("session", sessionID).Int("code", code).Str("message", message).Msg("ftp response")
}

// NewServer builds a goftp.io/server/v2 server.Server over svc, listening
// on address (host:port), with the greeting banner and passive port
// range spec.md §6 specifies.
func NewServer(svc *vfs.Service, address string, log *logger.Logger, rec Recorder) (*ftpserver.Server, error) {
	driver := New(svc, log, rec)
	opts := &ftpserver.Options{
		Name:         greeting,
		Factory:      &Factory{Driver: driver},
		Address:      address,
		Logger:       zeroLogAdapter{log: *log.StoreLogger("ftpd-wire").GetZerolog()},
		PassivePorts: passivePortRange,
	}
	return ftpserver.NewServer(opts)
}
