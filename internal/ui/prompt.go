package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/sys/unix"
)

// AssumeYes answers every confirmation with yes without asking.
var AssumeYes = false

// Confirm prompts the user for yes/no confirmation.
func Confirm(prompt string, defaultYes bool) (bool, error) {
	if AssumeYes {
		return true, nil
	}

	label := prompt
	if defaultYes {
		label += " [Y/n]"
	} else {
		label += " [y/N]"
	}

	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Default:   "",
	}

	if defaultYes {
		p.Default = "y"
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, err
		}
		return defaultYes, nil
	}

	return parseAnswer(result, defaultYes), nil
}

func parseAnswer(result string, defaultYes bool) bool {
	result = strings.ToLower(strings.TrimSpace(result))
	if result == "" {
		return defaultYes
	}
	return result == "y" || result == "yes"
}

// Interactive reports whether stdin is a terminal a prompt can read from.
func Interactive() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS)
	return err == nil
}

// ConfirmOverwrite lists conflicting paths and asks whether to replace them.
// It never overwrites on a prompt failure or without a terminal to ask on.
func ConfirmOverwrite(pkg string, paths []string) bool {
	WarningMsg("%s would overwrite %d existing %s:", pkg, len(paths), Plural(len(paths), "file"))
	for _, p := range paths {
		fmt.Fprintf(Output, "  %s\n", FilePath.Sprint(p))
	}

	if !AssumeYes && !Interactive() {
		return false
	}
	ok, err := Confirm("Overwrite these files", false)
	return err == nil && ok
}
