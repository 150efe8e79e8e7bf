package bash

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func Exec(cmd string, dryrun bool) (string, error) {
	command := exec.Command("bash", "-c", cmd)

	var stdout, stderr bytes.Buffer

	command.Stdout = &stdout
	command.Stderr = &stderr

	log.WithFields(log.Fields{
		"cmd":    cmd,
		"dryrun": dryrun,
	}).Debug("executing command")

	if dryrun {
		return "", nil
	}

	err := command.Run()

	outStr, errStr := stdout.String(), stderr.String()
	if err != nil {
		log.WithFields(log.Fields{
			"outStr": outStr,
			"errStr": errStr,
			"cmd":    cmd,
		}).Debug("cannot execute command")

		return "", errors.Wrapf(err, "cannot execute command: %s", cmd)
	}

	return strings.TrimSpace(outStr), nil
}

// Start launches name in the background and returns without waiting for it.
// The child gets its own session so it outlives the caller.
func Start(name string, args []string, dryrun bool) (int, error) {
	log.WithFields(log.Fields{
		"name":   name,
		"args":   args,
		"dryrun": dryrun,
	}).Info("starting process")

	if dryrun {
		return 0, nil
	}

	command := exec.Command(name, args...)
	command.Stdout = os.Stdout
	command.Stderr = os.Stderr
	command.SysProcAttr = detached()

	if err := command.Start(); err != nil {
		return 0, errors.Wrapf(err, "cannot start %s", name)
	}

	pid := command.Process.Pid

	if err := command.Process.Release(); err != nil {
		return pid, errors.Wrapf(err, "cannot release %s", name)
	}

	return pid, nil
}
