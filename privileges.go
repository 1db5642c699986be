package main

import (
	"os"
	"os/user"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// getOriginalUser gets the user who invoked sudo
func getOriginalUser() (*user.User, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return nil, errors.New("SUDO_USER environment variable not found")
	}
	return user.Lookup(sudoUser)
}

// dropPrivileges switches a process started through sudo back to the
// invoking user, so that the data directory stays owned by that user. It
// does nothing for unprivileged processes.
func dropPrivileges() error {
	if os.Geteuid() != 0 {
		return nil
	}
	u, err := getOriginalUser()
	if err != nil {
		return errors.Wrap(err, "could not get original user")
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrap(err, "invalid uid")
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errors.Wrap(err, "invalid gid")
	}

	if err := unix.Setgid(gid); err != nil {
		return errors.Wrap(err, "could not drop group privileges")
	}
	if err := unix.Setuid(uid); err != nil {
		return errors.Wrap(err, "could not drop user privileges")
	}

	log.WithField("user", u.Username).Info("Dropped root privileges")
	return nil
}
