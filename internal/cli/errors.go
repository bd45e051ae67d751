package cli

import (
	"errors"
	"strings"

	"upkgt/internal/executor"
	"upkgt/internal/ui"
	"upkgt/pkg/deb"
	"upkgt/pkg/installer"
	"upkgt/pkg/lock"
	"upkgt/pkg/scripts"
	"upkgt/pkg/verify"
)

var (
	// ErrPackageNotInstalled is returned when a named package has no record.
	ErrPackageNotInstalled = errors.New("package is not installed")

	// ErrAborted is returned when the user declines a confirmation.
	ErrAborted = errors.New("operation aborted by user")

	// ErrDiscrepancies is returned by verify when installed files do not match
	// their records. The findings have already been printed.
	ErrDiscrepancies = errors.New("installed files do not match the package database")

	// ErrUnhealthy is returned by doctor when a check failed.
	ErrUnhealthy = errors.New("doctor found problems")
)

// reportError prints err and, when one applies, a hint on how to proceed.
func reportError(err error) {
	if errors.Is(err, ErrDiscrepancies) || errors.Is(err, ErrUnhealthy) {
		return
	}

	ui.ErrorMsg("%v", err)
	if h := hint(err); h != "" {
		ui.MutedMsg("  %s", h)
	}

	var serr *scripts.ScriptError
	if errors.As(err, &serr) && serr.Output != "" && !verbose {
		ui.MutedMsg("  script output:")
		ui.MutedMsg("%s", indent(serr.Output))
	}
}

func hint(err error) string {
	var (
		conflict *installer.ConflictError
		missing  *installer.MissingCapabilityError
		persist  *installer.PersistError
		field    *deb.MissingFieldError
	)

	switch {
	case errors.As(err, &conflict):
		return "rerun with --force to overwrite the existing files"
	case errors.As(err, &missing):
		return "install the missing tools or use --backend native"
	case errors.As(err, &persist):
		if len(persist.Displaced) > 0 {
			return "the files are in place but not recorded; 'upkgt verify' lists them and the " +
				"*" + verify.DisplacedSuffix + " copies of the files they replaced"
		}
		return "the files are in place but not recorded; run 'upkgt verify' after fixing the database location"
	case errors.As(err, &field):
		return "the package control file is incomplete"
	case errors.Is(err, lock.ErrAlreadyRunning):
		return "wait for the other upkgt process to finish"
	case errors.Is(err, executor.ErrNotRoot):
		return "rerun with sudo, or use --root to install into a directory you own"
	case errors.Is(err, deb.ErrInvalidFormat):
		return "only .deb files can be installed"
	}
	return ""
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
