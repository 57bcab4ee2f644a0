package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSFTPPort is used when an sftp:// URL omits the port.
const DefaultSFTPPort = 22

// ParsedPath is either a local directory or an SFTP location.
type ParsedPath struct {
	IsRemote bool

	// For local paths
	LocalPath string

	// For SFTP paths
	Host string
	Port int
	User string
	Path string
}

// ParsePath parses a sync root, detecting whether it is a local path
// or an SFTP URL of the form sftp://user@host:port/path. Port defaults
// to 22. A double slash before the path (sftp://user@host//var/data)
// makes it absolute; a single slash is relative to the user's home.
func ParsePath(raw string) (*ParsedPath, error) {
	if strings.HasPrefix(raw, "sftp://") {
		return parseSFTPURL(raw)
	}

	return &ParsedPath{
		IsRemote:  false,
		LocalPath: raw,
	}, nil
}

// Client opens a storage client for the parsed location.
func (p *ParsedPath) Client() (Client, error) {
	if !p.IsRemote {
		return NewLocal(), nil
	}

	return DialSFTP(p.Host, p.Port, p.User)
}

// Root returns the path to scan on the client returned by Client.
func (p *ParsedPath) Root() string {
	if p.IsRemote {
		return p.Path
	}

	return p.LocalPath
}

func parseSFTPURL(sftpURL string) (*ParsedPath, error) {
	u, err := url.Parse(sftpURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SFTP URL: %w", err)
	}

	if u.Scheme != "sftp" {
		return nil, fmt.Errorf("expected sftp:// scheme, got %s://", u.Scheme)
	}

	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("SFTP URL must include username (sftp://user@host/path)")
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("SFTP URL must include host")
	}

	port := DefaultSFTPPort
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %w", err)
		}

		port = p
	}

	remotePath := u.Path

	switch {
	case remotePath == "" || remotePath == "/":
		remotePath = "."
	case strings.HasPrefix(remotePath, "//"):
		remotePath = remotePath[1:]
	default:
		remotePath = strings.TrimPrefix(remotePath, "/")
	}

	return &ParsedPath{
		IsRemote: true,
		Host:     host,
		Port:     port,
		User:     u.User.Username(),
		Path:     remotePath,
	}, nil
}
