// Package lock enforces one engine process per profile. The lock is an
// flock on the profile's LOCK file, so two engines on the same profile
// cannot both come up while distinct profiles never contend.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pigeonchat/pigeon/internal/profile"
)

// HeldError means another engine process already owns the profile.
type HeldError struct {
	Profile string
	PID     int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile %q is in use by PID %d", e.Profile, e.PID)
}

// Lock is the acquired single-instance lock for one profile.
type Lock struct {
	profile string
	file    *os.File
	path    string
}

// Acquire takes the exclusive instance lock for the named profile,
// creating the profile directory if needed. Returns HeldError when
// another process holds it.
func Acquire(profileName string) (*Lock, error) {
	if err := os.MkdirAll(profile.Dir(profileName), 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	path := profile.LockPath(profileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &HeldError{Profile: profileName, PID: holderPID(string(data))}
	}

	if err := stamp(f, profileName); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{profile: profileName, file: f, path: path}, nil
}

// Release drops the lock and removes the file. Safe on a nil receiver
// and after an earlier Release.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so no stale LOCK file outlives the holder.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stamp records the holder, read back for the HeldError diagnostic of
// the next contender.
func stamp(f *os.File, profileName string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nprofile=%s\ntime=%s\n",
		os.Getpid(), profileName, time.Now().UTC().Format(time.RFC3339))
	return err
}

func holderPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
