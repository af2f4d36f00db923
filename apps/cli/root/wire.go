package root

import (
	"github.com/zenGate-Global/permitdesk/apps/cli/cmd/audit"
	"github.com/zenGate-Global/permitdesk/apps/cli/cmd/auth"
	"github.com/zenGate-Global/permitdesk/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/permitdesk/apps/cli/cmd/certificate"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(certificate.Command())
	Root().AddCommand(audit.Command())
}
