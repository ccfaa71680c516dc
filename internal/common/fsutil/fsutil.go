package fsutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// Stamp identifies the on-disk state of a source file.
type Stamp struct {
	ModTime time.Time
	Size    int64
}

// StatStamp returns the modification time and size of path. Remote locations
// have a zero stamp.
func StatStamp(path string) (Stamp, error) {
	if IsRemote(path) {
		return Stamp{}, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{ModTime: fi.ModTime(), Size: fi.Size()}, nil
}

// SizeMB returns the file size rounded up to whole megabytes, minimum 1.
// Unknown sizes report 1 so budget checks are never bypassed.
func SizeMB(path string) int {
	fi, err := os.Stat(path)
	if err != nil {
		return 1
	}
	mb := int((fi.Size() + (1<<20 - 1)) / (1 << 20))
	if mb <= 0 {
		mb = 1
	}
	return mb
}

// IsRemote reports whether location is an http(s) URL rather than a path.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Reachable checks that a location can be used: filesystem paths must exist,
// URLs must accept a TCP connection within timeout.
func Reachable(location string, timeout time.Duration) error {
	if strings.TrimSpace(location) == "" {
		return errors.New("empty location")
	}
	if !IsRemote(location) {
		if _, err := os.Stat(location); err != nil {
			return err
		}
		return nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
